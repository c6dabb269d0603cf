package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/antoniostano/lingopal/internal/chat"
)

// MockAdapter provides deterministic local replies when no model is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Open(ctx context.Context, req Request) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return &mockStream{ctx: ctx, parts: splitKeepingSpaces(buildMockReply(req))}, nil
}

func buildMockReply(req Request) string {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == chat.RoleUser {
			last = strings.TrimSpace(chat.StripPauses(req.Messages[i].Content))
			break
		}
	}
	if last == "" {
		return fmt.Sprintf("Hi there! %s What would you like to talk about?", chat.PauseToken)
	}
	return fmt.Sprintf("I heard you say: %s %s What else is on your mind?", last, chat.PauseToken)
}

// splitKeepingSpaces cuts text into word-sized fragments whose concatenation
// is the original text.
func splitKeepingSpaces(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == ' ' && i > start {
			out = append(out, text[start:i])
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

type mockStream struct {
	ctx   context.Context
	parts []string
}

func (s *mockStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.parts) == 0 {
		return "", io.EOF
	}
	part := s.parts[0]
	s.parts = s.parts[1:]
	return part, nil
}

func (s *mockStream) Close() error { return nil }

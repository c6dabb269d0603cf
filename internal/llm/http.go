package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/lingopal/internal/chat"
)

// HTTPAdapter forwards requests to a chat endpoint that streams its reply as
// server-sent events, NDJSON or raw text.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type httpPayload struct {
	Messages    []chat.ModelMessage `json:"messages"`
	Temperature float32             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
	Stream      bool                `json:"stream"`
}

func (a *HTTPAdapter) Open(ctx context.Context, req Request) (Stream, error) {
	messages := make([]chat.ModelMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chat.ModelMessage{Role: chat.RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	payload, err := json.Marshal(httpPayload{
		Messages:    messages,
		Temperature: temperatureOrDefault(req.Temperature),
		MaxTokens:   maxTokensOrDefault(req.MaxTokens),
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"), strings.Contains(ct, "application/x-ndjson"):
		scanner := bufio.NewScanner(res.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		return &lineStream{body: res.Body, scanner: scanner}, nil
	case strings.Contains(ct, "application/json"):
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &staticStream{parts: []string{extractText(obj)}}, nil
	default:
		return &rawStream{body: res.Body}, nil
	}
}

// lineStream parses one JSON or text fragment per line. "data:" prefixes are
// stripped and "[DONE]" ends the stream.
type lineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *lineStream) Recv() (string, error) {
	for !s.done && s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			s.done = true
			break
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return line, nil
		}
		if finished(obj) {
			s.done = true
			break
		}
		if delta := extractText(obj); delta != "" {
			return delta, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return "", io.EOF
}

func (s *lineStream) Close() error { return s.body.Close() }

// rawStream relays the body as UTF-8 text, holding back a rune split across
// reads.
type rawStream struct {
	body    io.ReadCloser
	pending []byte
	buf     [4096]byte
}

func (s *rawStream) Recv() (string, error) {
	for {
		n, err := s.body.Read(s.buf[:])
		if n > 0 {
			data := append(s.pending, s.buf[:n]...)
			cut := completeUTF8Prefix(data)
			s.pending = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				return string(data[:cut]), nil
			}
		}
		if err == io.EOF {
			if len(s.pending) > 0 {
				rest := string(s.pending)
				s.pending = nil
				return rest, nil
			}
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("stream read: %w", err)
		}
	}
}

func (s *rawStream) Close() error { return s.body.Close() }

// completeUTF8Prefix returns the length of data without a trailing partial rune.
func completeUTF8Prefix(data []byte) int {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if utf8.FullRune(data[i:]) {
			return len(data)
		}
		return i
	}
	return len(data)
}

type staticStream struct {
	parts []string
}

func (s *staticStream) Recv() (string, error) {
	for len(s.parts) > 0 {
		part := s.parts[0]
		s.parts = s.parts[1:]
		if part != "" {
			return part, nil
		}
	}
	return "", io.EOF
}

func (s *staticStream) Close() error { return nil }

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "content"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	if choice := firstChoice(obj); choice != nil {
		if delta, ok := choice["delta"].(map[string]any); ok {
			if s, ok := delta["content"].(string); ok {
				return s
			}
		}
		if msg, ok := choice["message"].(map[string]any); ok {
			if s, ok := msg["content"].(string); ok {
				return s
			}
		}
	}
	return ""
}

func finished(obj map[string]any) bool {
	choice := firstChoice(obj)
	if choice == nil {
		return false
	}
	reason, ok := choice["finish_reason"].(string)
	return ok && reason != ""
}

func firstChoice(obj map[string]any) map[string]any {
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil
	}
	choice, _ := choices[0].(map[string]any)
	return choice
}

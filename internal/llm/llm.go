package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antoniostano/lingopal/internal/chat"
	"github.com/antoniostano/lingopal/internal/reliability"
)

// Request is one chat completion: a system prompt followed by history.
type Request struct {
	System      string
	Messages    []chat.ModelMessage
	Temperature float32
	MaxTokens   int
}

const (
	DefaultTemperature = 0.8
	DefaultMaxTokens   = 1000
)

// Stream yields text fragments until io.EOF.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Adapter opens a text generation stream. Open returns once the upstream
// accepted the request; reading happens through the Stream.
type Adapter interface {
	Open(ctx context.Context, req Request) (Stream, error)
}

// DeltaHandler receives streamed text fragments.
type DeltaHandler func(delta string) error

// Config controls adapter construction.
type Config struct {
	Provider     string
	APIKey       string
	Model        string
	Organization string
	BaseURL      string
	HTTPURL      string
}

func NewAdapter(cfg Config) (Adapter, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "auto"
	}

	switch provider {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openai api key is required for openai provider")
		}
		return NewOpenAIAdapter(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm http url is required for http provider")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return NewOpenAIAdapter(cfg)
	}
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPAdapter(cfg.HTTPURL)
	}
	return NewMockAdapter()
}

// StatusError reports a non-success upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm upstream status %d", e.Code)
	}
	return fmt.Sprintf("llm upstream status %d: %s", e.Code, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.Code }

// OpenWithRetry opens a stream, retrying transient upstream failures with
// capped exponential backoff. Nothing has been streamed when Open fails, so a
// retry never duplicates text.
func OpenWithRetry(ctx context.Context, a Adapter, req Request, attempts int) (Stream, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		stream, err := a.Open(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !reliability.IsRetryableError(err) {
			break
		}
	}
	return nil, lastErr
}

// Collect drains a stream, forwarding each fragment to onDelta, and returns
// the full text.
func Collect(ctx context.Context, a Adapter, req Request, onDelta DeltaHandler) (string, error) {
	stream, err := a.Open(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var out strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out.String(), nil
		}
		if err != nil {
			return out.String(), err
		}
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return out.String(), err
			}
		}
	}
}

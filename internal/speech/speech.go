package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/antoniostano/lingopal/internal/reliability"
)

var (
	ErrClosed        = errors.New("speech channel closed")
	ErrStartRejected = errors.New("recognition start rejected")
	ErrEmptyAudio    = errors.New("synthesis returned no audio")
)

// ResultReason classifies a recognition event.
type ResultReason int

const (
	RecognizedSpeech ResultReason = iota
	NoMatch
	Canceled
)

func (r ResultReason) String() string {
	switch r {
	case RecognizedSpeech:
		return "recognized_speech"
	case NoMatch:
		return "no_match"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RecognitionResult is one discrete event from a recognition channel.
type RecognitionResult struct {
	Reason    ResultReason
	Text      string
	Code      string
	Detail    string
	Retryable bool
}

// RecognitionConfig parameterizes a recognition channel. The push stream
// carries mono PCM16LE at SampleRate.
type RecognitionConfig struct {
	Locale     string
	SampleRate int
}

// PushStream is the local write side of a continuous recognition input.
type PushStream interface {
	Write(pcm []byte) error
	Close() error
}

// Recognition is an open streaming recognition channel.
type Recognition interface {
	Input() PushStream
	// Start begins continuous recognition and returns once the remote side
	// acknowledged the stream.
	Start(ctx context.Context) error
	// Stop asks the remote side to finish and flush pending results.
	Stop(ctx context.Context) error
	Results() <-chan RecognitionResult
	Close() error
}

type Recognizer interface {
	Open(ctx context.Context, cfg RecognitionConfig) (Recognition, error)
}

// SynthesisRequest is one chunk of text to speak.
type SynthesisRequest struct {
	Text   string
	Locale string
	Voice  string
	Style  string
	Rate   float64
}

// SynthesisChannel turns one request into one buffer of mono PCM16LE audio.
type SynthesisChannel interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
	Close() error
}

type Synthesizer interface {
	Open(ctx context.Context) (SynthesisChannel, error)
}

// StatusError reports a non-success HTTP response from a speech service.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.Code }

func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

// IsRetryable reports whether err came from a transient upstream condition.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

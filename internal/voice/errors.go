package voice

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the capture and synthesis pipeline. Errors are
// wrapped as "kind: cause" so errors.Is matches either.
var (
	ErrDeviceAcquisition = errors.New("audio device acquisition failed")
	ErrChannelSetup      = errors.New("speech channel setup failed")
	ErrChannelStart      = errors.New("speech channel start failed")
	ErrStreamRead        = errors.New("response stream interrupted")
	ErrSynthesisChunk    = errors.New("chunk synthesis failed")
	ErrDecode            = errors.New("audio decode failed")

	ErrInvalidState = errors.New("invalid session state")
)

// Names used by the recognition session lifecycle.
var (
	ErrAudioSetup       = ErrDeviceAcquisition
	ErrRecognitionSetup = ErrChannelSetup
	ErrRecognitionStart = ErrChannelStart
)

func wrapKind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// ErrorCode maps an error to a stable client-facing code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceAcquisition):
		return "device_acquisition"
	case errors.Is(err, ErrChannelSetup):
		return "channel_setup"
	case errors.Is(err, ErrChannelStart):
		return "channel_start"
	case errors.Is(err, ErrStreamRead):
		return "stream_read"
	case errors.Is(err, ErrSynthesisChunk):
		return "synthesis_chunk"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "internal"
	}
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeState            MessageType = "state"
	TypeMessage          MessageType = "message"
	TypeTextDelta        MessageType = "assistant_text_delta"
	TypeAssistantAudio   MessageType = "assistant_audio_chunk"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionStartRecording = "start_recording"
	ActionStopRecording  = "stop_recording"
	ActionSendText       = "send_text"
	ActionStopAudio      = "stop_audio"
	ActionPlaybackDone   = "playback_done"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries interleaved PCM16LE microphone samples.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Channels    int         `json:"channels,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Text      string      `json:"text,omitempty"`
	Seq       int         `json:"seq,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

// Flags mirrors the practice UI toggles.
type Flags struct {
	Configuring bool `json:"configuring"`
	Recording   bool `json:"recording"`
	Streaming   bool `json:"streaming"`
	Playing     bool `json:"playing"`
}

type StateEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Flags     Flags       `json:"flags"`
}

// ChatMessage is the wire form of a conversation entry. Text has pause
// markers removed.
type ChatMessage struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	IsAI       bool      `json:"is_ai"`
	Streaming  bool      `json:"streaming,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	VolumeBins []float64 `json:"volume_bins,omitempty"`
	WAVBase64  string    `json:"wav_base64,omitempty"`
}

type MessageEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Message   ChatMessage `json:"message"`
}

// TextDelta carries the reply received so far, with pause markers removed.
type TextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	Text      string      `json:"text"`
}

// AssistantAudioChunk is one clip to play. The client acknowledges it with a
// playback_done control carrying the same seq.
type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	AudioBase64 string      `json:"audio_base64"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		if msg.Channels == 0 {
			msg.Channels = 1
		}
		if msg.Channels > 2 {
			return nil, errors.New("client_audio_chunk supports at most 2 channels")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStartRecording, ActionStopRecording, ActionStopAudio, ActionPlaybackDone:
		case ActionSendText:
			if msg.Text == "" {
				return nil, errors.New("send_text requires text")
			}
		default:
			return nil, fmt.Errorf("unknown client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

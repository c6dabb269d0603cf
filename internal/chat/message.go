package chat

import (
	"strings"
	"sync"

	"github.com/antoniostano/lingopal/internal/audio"
	"github.com/google/uuid"
)

// PauseToken is the marker the model emits between clauses. It drives synthesis
// chunking and is kept in history sent back to the model.
const PauseToken = "§"

// VolumeBucketCount is the number of waveform bins rendered for audio messages.
const VolumeBucketCount = 38

// Kind tags the message variant.
type Kind int

const (
	KindText Kind = iota
	KindAudio
)

func (k Kind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "text"
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// ModelMessage is one entry of the conversation sent to the language model.
type ModelMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message is one conversational turn. Text is the display form with pause
// markers removed; ModelText keeps them verbatim.
type Message struct {
	Kind      Kind
	ID        string
	Text      string
	ModelText string
	FromAI    bool
	Streaming bool
	Audio     *Audio
}

// NewText creates a text message.
func NewText(text string, fromAI bool) Message {
	return Message{
		Kind:      KindText,
		ID:        uuid.NewString(),
		Text:      StripPauses(text),
		ModelText: text,
		FromAI:    fromAI,
	}
}

// NewStreaming creates a placeholder for a reply that is still arriving.
func NewStreaming(text string, fromAI bool) Message {
	m := NewText(text, fromAI)
	m.Streaming = true
	return m
}

// NewAudio creates a message carrying a WAV clip.
func NewAudio(text string, fromAI bool, wav []byte) Message {
	m := NewText(text, fromAI)
	m.Kind = KindAudio
	m.Audio = &Audio{WAV: wav}
	return m
}

// StripPauses removes pause markers, including the space the model puts before each one.
func StripPauses(text string) string {
	text = strings.ReplaceAll(text, " "+PauseToken, "")
	return strings.ReplaceAll(text, PauseToken, "")
}

// ToModelMessage converts the message for the language model. useDisplay sends
// the marker-free text instead of the model text.
func (m Message) ToModelMessage(useDisplay bool) ModelMessage {
	role := RoleUser
	if m.FromAI {
		role = RoleAssistant
	}
	content := m.ModelText
	if useDisplay {
		content = m.Text
	}
	return ModelMessage{Role: role, Content: content}
}

// Audio is the attachment of an audio message. Metadata is decoded once and
// shared by every copy of the owning message.
type Audio struct {
	WAV []byte

	once sync.Once
	meta audio.Metadata
	err  error
}

// Metadata returns the clip duration and volume envelope, decoding on first use.
// Concurrent callers wait for the same decode.
func (a *Audio) Metadata() (audio.Metadata, error) {
	a.once.Do(func() {
		a.meta, a.err = audio.DecodeMetadata(a.WAV, VolumeBucketCount)
	})
	return a.meta, a.err
}

// ModelHistory converts the last window messages for the model. A non-positive
// window keeps everything.
func ModelHistory(msgs []Message, window int, useDisplay bool) []ModelMessage {
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	out := make([]ModelMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToModelMessage(useDisplay))
	}
	return out
}

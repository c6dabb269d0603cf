package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/antoniostano/lingopal/internal/chat"
	"github.com/antoniostano/lingopal/internal/observability"
	"github.com/antoniostano/lingopal/internal/speech"
)

// Flags are the UI toggles of a practice conversation.
type Flags struct {
	Configuring bool `json:"configuring"`
	Recording   bool `json:"recording"`
	Streaming   bool `json:"streaming"`
	Playing     bool `json:"playing"`
}

// Busy reports whether a recording or a reply is in progress.
func (f Flags) Busy() bool {
	return f.Configuring || f.Recording || f.Streaming || f.Playing
}

// PracticeState is what an observer renders. Notice is set only on the update
// that reports a failure.
type PracticeState struct {
	Flags    Flags
	Messages []chat.Message
	Notice   string
}

type PracticeConfig struct {
	Device        CaptureDevice
	Recognizer    speech.Recognizer
	Turn          TurnConfig
	WorkletBuffer int
	// Observer receives a snapshot after every state change.
	Observer func(PracticeState)
	// OnTurn receives the conversation after each completed reply.
	OnTurn  func(messages []chat.Message)
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Practice drives one conversation: recording the learner, transcribing, and
// having the partner reply out loud.
type Practice struct {
	cfg    PracticeConfig
	logger *slog.Logger
	runner *TurnRunner

	mu          sync.Mutex
	flags       Flags
	messages    []chat.Message
	recognition *RecognitionSession
	stopping    bool
	processor   *SynthesisProcessor
}

func NewPractice(cfg PracticeConfig) *Practice {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Practice{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "practice")),
	}
	turn := cfg.Turn
	if turn.Logger == nil {
		turn.Logger = logger
	}
	if turn.Metrics == nil {
		turn.Metrics = cfg.Metrics
	}
	turn.Hooks = TurnHooks{
		OnProcessor: func(proc *SynthesisProcessor) {
			p.mu.Lock()
			p.processor = proc
			p.mu.Unlock()
		},
		OnText:      p.updateStreaming,
		OnStreamEnd: p.streamEnded,
	}
	p.runner = NewTurnRunner(turn)
	return p
}

// Restore seeds the conversation, typically from persisted records.
func (p *Practice) Restore(messages []chat.Message) {
	p.mu.Lock()
	p.messages = append([]chat.Message(nil), messages...)
	p.mu.Unlock()
	p.notify("")
}

func (p *Practice) Flags() Flags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

func (p *Practice) Messages() []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.messages...)
}

// StartRecording opens the microphone and starts recognition. On failure all
// toggles return to their previous state.
func (p *Practice) StartRecording(ctx context.Context) error {
	p.mu.Lock()
	if p.flags.Busy() {
		flags := p.flags
		p.mu.Unlock()
		return fmt.Errorf("%w: cannot record while %+v", ErrInvalidState, flags)
	}
	p.flags.Configuring = true
	session := NewRecognitionSession(RecognitionConfig{
		Device:        p.cfg.Device,
		Recognizer:    p.cfg.Recognizer,
		Language:      p.cfg.Turn.Language,
		WorkletBuffer: p.cfg.WorkletBuffer,
		Logger:        p.logger,
		Metrics:       p.cfg.Metrics,
	})
	p.recognition = session
	p.mu.Unlock()
	p.notify("")

	if err := session.Init(ctx); err != nil {
		p.abortRecording(session, err, "error initializing audio")
		return err
	}

	p.setFlags(func(f *Flags) {
		f.Configuring = false
		f.Recording = true
	}, "")

	if err := session.Start(ctx); err != nil {
		p.abortRecording(session, err, "error starting speech recognition")
		return err
	}
	return nil
}

func (p *Practice) abortRecording(session *RecognitionSession, err error, msg string) {
	session.ReleaseResources()
	p.logger.Warn(msg, slog.String("error", err.Error()), slog.String("code", ErrorCode(err)))
	p.mu.Lock()
	if p.recognition == session {
		p.recognition = nil
		p.stopping = false
	}
	p.mu.Unlock()
	p.setFlags(func(f *Flags) {
		f.Configuring = false
		f.Recording = false
	}, noticeFor(err))
}

// StopRecording ends the recording and, when anything was recognized, sends
// it as the learner's message and waits for the reply to finish.
func (p *Practice) StopRecording(ctx context.Context) error {
	p.mu.Lock()
	session := p.recognition
	if session == nil || p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	p.flags.Configuring = true
	p.mu.Unlock()
	p.notify("")

	text, err := session.StopAndGetResult(ctx)
	if err != nil {
		p.abortRecording(session, err, "error stopping recognition")
		return err
	}
	wav, err := session.ExportAudio()
	if err != nil {
		p.logger.Warn("exporting recording", slog.String("error", err.Error()))
	}
	session.ReleaseResources()

	sending := strings.TrimSpace(text) != ""
	p.mu.Lock()
	p.recognition = nil
	p.stopping = false
	p.flags.Configuring = false
	p.flags.Recording = false
	// Claim the reply slot before the flags are published.
	p.flags.Streaming = sending
	p.mu.Unlock()
	p.notify("")

	if !sending {
		return nil
	}
	msg := chat.NewAudio(text, false, wav)
	if _, err := msg.Audio.Metadata(); err != nil {
		p.logger.Warn("recording metadata", slog.String("error", err.Error()))
	}
	return p.respond(ctx, msg)
}

// SendText sends a typed learner message and waits for the reply to finish.
func (p *Practice) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	p.mu.Lock()
	if p.flags.Busy() {
		p.mu.Unlock()
		return fmt.Errorf("%w: a reply is already in progress", ErrInvalidState)
	}
	p.flags.Streaming = true
	p.mu.Unlock()
	return p.respond(ctx, chat.NewText(text, false))
}

// respond expects the caller to have set the streaming flag.
func (p *Practice) respond(ctx context.Context, learner chat.Message) error {
	p.mu.Lock()
	p.messages = append(p.messages, learner)
	history := append([]chat.Message(nil), p.messages...)
	p.messages = append(p.messages, chat.NewStreaming("", true))
	p.flags.Streaming = true
	p.mu.Unlock()
	p.notify("")

	reply, err := p.runner.Respond(ctx, history)

	p.mu.Lock()
	p.processor = nil
	p.flags.Streaming = false
	p.flags.Playing = false
	completed := reply.ID != ""
	if n := len(p.messages); n > 0 && p.messages[n-1].Streaming {
		if completed {
			// The reply takes over the placeholder's identity.
			reply.ID = p.messages[n-1].ID
			p.messages[n-1] = reply
		} else {
			p.messages = p.messages[:n-1]
		}
	}
	conversation := append([]chat.Message(nil), p.messages...)
	p.mu.Unlock()

	notice := ""
	if err != nil {
		p.logger.Warn("error generating response", slog.String("error", err.Error()), slog.String("code", ErrorCode(err)))
		notice = noticeFor(err)
	}
	p.notify(notice)

	if completed && p.cfg.OnTurn != nil {
		p.cfg.OnTurn(conversation)
	}
	return err
}

func (p *Practice) updateStreaming(text string) {
	p.mu.Lock()
	if n := len(p.messages); n > 0 && p.messages[n-1].Streaming {
		m := chat.NewStreaming(text, true)
		m.ID = p.messages[n-1].ID
		p.messages[n-1] = m
	}
	p.mu.Unlock()
	p.notify("")
}

func (p *Practice) streamEnded() {
	p.setFlags(func(f *Flags) {
		f.Streaming = false
		f.Playing = true
	}, "")
}

// StopAudio interrupts the reply being played. It returns once the turn has
// wound down.
func (p *Practice) StopAudio(ctx context.Context) error {
	p.mu.Lock()
	proc := p.processor
	p.mu.Unlock()
	if proc == nil {
		return nil
	}
	if err := proc.Stop(ctx); err != nil {
		return err
	}
	p.setFlags(func(f *Flags) { f.Playing = false }, "")
	return nil
}

// Close releases an active recording. A reply in progress is stopped.
func (p *Practice) Close(ctx context.Context) error {
	p.mu.Lock()
	session := p.recognition
	p.recognition = nil
	p.mu.Unlock()
	if session != nil {
		session.ReleaseResources()
	}
	return p.StopAudio(ctx)
}

func (p *Practice) setFlags(update func(*Flags), notice string) {
	p.mu.Lock()
	update(&p.flags)
	p.mu.Unlock()
	p.notify(notice)
}

func (p *Practice) notify(notice string) {
	if p.cfg.Observer == nil {
		return
	}
	p.mu.Lock()
	state := PracticeState{
		Flags:    p.flags,
		Messages: append([]chat.Message(nil), p.messages...),
		Notice:   notice,
	}
	p.mu.Unlock()
	p.cfg.Observer(state)
}

func noticeFor(err error) string {
	switch ErrorCode(err) {
	case "device_acquisition":
		return "Microphone unavailable. Check the permission and try again."
	case "channel_setup", "channel_start":
		return "Speech service unavailable. Please try again."
	case "stream_read":
		return "The reply was interrupted. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/lingopal/internal/chat"
	"github.com/antoniostano/lingopal/internal/language"
	"github.com/antoniostano/lingopal/internal/llm"
	"github.com/antoniostano/lingopal/internal/observability"
	"github.com/antoniostano/lingopal/internal/speech"
)

const (
	DefaultHistoryWindow = 8
	defaultOpenAttempts  = 2
)

// TurnHooks lets the caller follow a turn. All hooks are optional and run on
// the goroutine calling Respond, except OnFirstAudio.
type TurnHooks struct {
	// OnProcessor hands over the turn's processor so playback can be stopped.
	OnProcessor func(*SynthesisProcessor)
	// OnText receives the model text accumulated so far.
	OnText func(text string)
	// OnStreamEnd fires when the model finished and only playback remains.
	OnStreamEnd func()
	// OnFirstAudio fires when the first chunk reaches playback.
	OnFirstAudio func()
}

type TurnConfig struct {
	LLM         llm.Adapter
	Synthesizer speech.Synthesizer
	Player      Player
	Language    language.Language
	// VoiceCode overrides the language's default voice.
	VoiceCode     string
	Style         string
	Rate          float64
	Prompt        llm.ChatPrompt
	HistoryWindow int
	SampleRate    int
	ChunkTimeout  time.Duration
	OpenAttempts  int
	Hooks         TurnHooks
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// TurnRunner produces one spoken reply per call to Respond.
type TurnRunner struct {
	cfg    TurnConfig
	logger *slog.Logger
}

func NewTurnRunner(cfg TurnConfig) *TurnRunner {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.OpenAttempts <= 0 {
		cfg.OpenAttempts = defaultOpenAttempts
	}
	if cfg.Prompt.Language == "" {
		cfg.Prompt.Language = cfg.Language.Name
	}
	if cfg.Prompt.SpeakerName == "" {
		if v, ok := cfg.voice(); ok {
			cfg.Prompt.SpeakerName = v.Name
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnRunner{cfg: cfg, logger: logger.With(slog.String("component", "turn"))}
}

func (c TurnConfig) voice() (language.Voice, bool) {
	if c.VoiceCode != "" {
		if v, ok := c.Language.Voice(c.VoiceCode); ok {
			return v, true
		}
	}
	return c.Language.DefaultVoice()
}

func (r *TurnRunner) processorVoice() Voice {
	v := Voice{Locale: r.cfg.Language.SpeechName, Style: r.cfg.Style, Rate: r.cfg.Rate}
	if voice, ok := r.cfg.voice(); ok {
		v.Name = voice.Code
	}
	return v
}

// Respond asks the model for a reply to history, speaks it chunk by chunk as
// it streams and returns the reply with its exported audio.
//
// If the model stream breaks mid-reply the audio produced so far is still
// exported and returned along with an ErrStreamRead error.
func (r *TurnRunner) Respond(ctx context.Context, history []chat.Message) (chat.Message, error) {
	begin := time.Now()
	hooks := r.cfg.Hooks
	proc := NewSynthesisProcessor(ProcessorConfig{
		Synthesizer:  r.cfg.Synthesizer,
		Player:       r.cfg.Player,
		SampleRate:   r.cfg.SampleRate,
		Voice:        r.processorVoice(),
		ChunkTimeout: r.cfg.ChunkTimeout,
		Logger:       r.logger,
		Metrics:      r.cfg.Metrics,
		OnFirstAudio: func() {
			r.cfg.Metrics.ObserveFirstAudio(time.Since(begin))
			if hooks.OnFirstAudio != nil {
				hooks.OnFirstAudio()
			}
		},
	})
	defer func() {
		proc.ReleaseResources()
		proc.Complete()
	}()
	if hooks.OnProcessor != nil {
		hooks.OnProcessor(proc)
	}

	if r.cfg.LLM == nil {
		return chat.Message{}, wrapKind(ErrStreamRead, errors.New("no language model configured"))
	}
	req := r.cfg.Prompt.Request(history, r.cfg.HistoryWindow)

	var (
		g      errgroup.Group
		stream llm.Stream
	)
	g.Go(func() error {
		s, err := llm.OpenWithRetry(ctx, r.cfg.LLM, req, r.cfg.OpenAttempts)
		if err != nil {
			return wrapKind(ErrStreamRead, err)
		}
		stream = s
		return nil
	})
	g.Go(func() error {
		return proc.Init(ctx)
	})
	if err := g.Wait(); err != nil {
		if stream != nil {
			stream.Close()
		}
		r.logger.Warn("turn setup failed", slog.String("error", err.Error()))
		return chat.Message{}, err
	}
	defer stream.Close()

	seg := NewPauseSegmenter()
	var readErr error
	first := true
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			readErr = wrapKind(ErrStreamRead, err)
			break
		}
		if delta == "" {
			continue
		}
		if first {
			first = false
			r.cfg.Metrics.ObserveStage(observability.StageFirstText, time.Since(begin))
		}
		for _, chunk := range seg.Push(delta) {
			proc.PushTask(chunk)
		}
		if hooks.OnText != nil {
			hooks.OnText(seg.Text())
		}
	}

	if readErr == nil {
		proc.PushTask(seg.Finalize())
	} else {
		r.logger.Warn("model stream interrupted", slog.String("error", readErr.Error()))
	}
	if hooks.OnStreamEnd != nil {
		hooks.OnStreamEnd()
	}

	wav, err := proc.ExportAudio(ctx)
	if err != nil {
		return chat.NewText(seg.Text(), true), errors.Join(readErr, err)
	}
	r.cfg.Metrics.ObserveStage(observability.StageTurnTotal, time.Since(begin))

	var msg chat.Message
	if len(wav) > 0 {
		msg = chat.NewAudio(seg.Text(), true, wav)
		if _, err := msg.Audio.Metadata(); err != nil {
			r.logger.Warn("reply audio metadata", slog.String("error", err.Error()))
		}
	} else {
		msg = chat.NewText(seg.Text(), true)
	}
	return msg, readErr
}

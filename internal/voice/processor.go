package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antoniostano/lingopal/internal/audio"
	"github.com/antoniostano/lingopal/internal/observability"
	"github.com/antoniostano/lingopal/internal/speech"
)

// Clip is one synthesized chunk ready for playback.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Duration returns the clip's playback length.
func (c Clip) Duration() time.Duration {
	return audio.ClipDuration(len(c.PCM), c.SampleRate, c.Channels)
}

// Player plays one clip to completion. Play returns early with ctx.Err() when
// ctx is canceled.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// Voice selects how chunks are spoken.
type Voice struct {
	Locale string
	Name   string
	Style  string
	Rate   float64
}

type ProcessorConfig struct {
	Synthesizer speech.Synthesizer
	Player      Player
	SampleRate  int
	Voice       Voice
	// ChunkTimeout bounds one synthesis call. Zero leaves it to the provider.
	ChunkTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	// OnFirstAudio is called once, when the first chunk is handed to playback.
	OnFirstAudio func()
}

// SynthesisProcessor speaks text chunks in the order they were pushed. Two
// serial stages are chained: synthesis hands each result to playback before
// taking the next chunk, so playback order equals push order whatever the
// per-chunk latency.
type SynthesisProcessor struct {
	cfg    ProcessorConfig
	logger *slog.Logger

	channel speech.SynthesisChannel
	synth   *SerialStage[string]
	play    *SerialStage[Clip]

	mu     sync.Mutex
	chunks [][]byte

	running    atomic.Bool
	stopped    atomic.Bool
	playCtx    context.Context
	cancelPlay context.CancelFunc
	firstAudio sync.Once

	done         chan struct{}
	completeOnce sync.Once
	releaseOnce  sync.Once
}

func NewSynthesisProcessor(cfg ProcessorConfig) *SynthesisProcessor {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &SynthesisProcessor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "synthesis")),
		done:   make(chan struct{}),
	}
	p.playCtx, p.cancelPlay = context.WithCancel(context.Background())
	p.synth = NewSerialStage(p.synthesize)
	p.play = NewSerialStage(p.playback)
	return p
}

// Init opens the synthesis channel.
func (p *SynthesisProcessor) Init(ctx context.Context) error {
	if p.cfg.Synthesizer == nil {
		return wrapKind(ErrChannelSetup, errors.New("no synthesizer configured"))
	}
	ch, err := p.cfg.Synthesizer.Open(ctx)
	if err != nil {
		return wrapKind(ErrChannelSetup, err)
	}
	p.channel = ch
	p.running.Store(true)
	return nil
}

// PushTask queues a chunk of text. Blank chunks are accepted and skipped.
// Chunks pushed after Stop are ignored.
func (p *SynthesisProcessor) PushTask(text string) {
	if p.stopped.Load() {
		p.logger.Debug("ignoring chunk pushed after stop")
		return
	}
	p.synth.Push(text)
}

func (p *SynthesisProcessor) synthesize(text string) {
	text = speakableText(text)
	if text == "" || p.stopped.Load() || p.channel == nil {
		return
	}

	ctx := context.Background()
	if p.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ChunkTimeout)
		defer cancel()
	}
	start := time.Now()
	pcm, err := p.channel.Synthesize(ctx, speech.SynthesisRequest{
		Text:   text,
		Locale: p.cfg.Voice.Locale,
		Voice:  p.cfg.Voice.Name,
		Style:  p.cfg.Voice.Style,
		Rate:   p.cfg.Voice.Rate,
	})
	if err == nil && len(pcm) == 0 {
		err = speech.ErrEmptyAudio
	}
	if err != nil {
		p.logger.Warn("dropping chunk",
			slog.String("error", wrapKind(ErrSynthesisChunk, err).Error()),
			slog.Int("chars", len(text)),
		)
		p.cfg.Metrics.ChunkDropped("synthesis")
		return
	}
	p.cfg.Metrics.ObserveSynthesis(time.Since(start))

	if p.stopped.Load() {
		return
	}
	p.firstAudio.Do(func() {
		if p.cfg.OnFirstAudio != nil {
			p.cfg.OnFirstAudio()
		}
	})
	p.play.Push(Clip{PCM: pcm, SampleRate: p.cfg.SampleRate, Channels: 1})
}

func (p *SynthesisProcessor) playback(clip Clip) {
	p.mu.Lock()
	p.chunks = append(p.chunks, clip.PCM)
	p.mu.Unlock()

	if p.stopped.Load() || p.cfg.Player == nil {
		return
	}
	if len(clip.PCM)%2 != 0 {
		p.logger.Warn("skipping chunk playback",
			slog.String("error", wrapKind(ErrDecode, audio.ErrOddLength).Error()),
			slog.Int("bytes", len(clip.PCM)),
		)
		p.cfg.Metrics.ChunkDropped("decode")
		return
	}
	if err := p.cfg.Player.Play(p.playCtx, clip); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("chunk playback failed", slog.String("error", wrapKind(ErrDecode, err).Error()))
		p.cfg.Metrics.ChunkDropped("decode")
	}
}

// ExportAudio waits for both stages to drain and returns every synthesized
// chunk, in order, as one mono WAV.
func (p *SynthesisProcessor) ExportAudio(ctx context.Context) ([]byte, error) {
	if err := p.synth.Drain(ctx); err != nil {
		return nil, err
	}
	if err := p.play.Drain(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	chunks := make([][]byte, len(p.chunks))
	copy(chunks, p.chunks)
	p.mu.Unlock()
	return audio.EncodeRaw(p.cfg.SampleRate, 1, chunks...)
}

// Stop halts the playing clip and skips queued work, then waits for Complete.
// It is a no-op when the processor is not running or already stopped.
func (p *SynthesisProcessor) Stop(ctx context.Context) error {
	if !p.running.Load() {
		return nil
	}
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	p.synth.Close()
	p.cancelPlay()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete marks the processor finished and releases any Stop waiter. Only
// the first call has an effect.
func (p *SynthesisProcessor) Complete() {
	p.completeOnce.Do(func() {
		p.running.Store(false)
		close(p.done)
	})
}

// ReleaseResources interrupts playback and closes the synthesis channel.
// Queued clips are skipped; exported audio is unaffected. Safe to call
// repeatedly and before Init.
func (p *SynthesisProcessor) ReleaseResources() {
	p.releaseOnce.Do(func() {
		p.stopped.Store(true)
		p.cancelPlay()
		p.synth.Close()
		p.play.Close()
		if p.channel != nil {
			if err := p.channel.Close(); err != nil {
				p.logger.Warn("closing synthesis channel", slog.String("error", err.Error()))
			}
		}
	})
}

func (p *SynthesisProcessor) Running() bool { return p.running.Load() }

func (p *SynthesisProcessor) Stopped() bool { return p.stopped.Load() }

// Pending returns the chunks still waiting for synthesis or playback.
func (p *SynthesisProcessor) Pending() int {
	return p.synth.Pending() + p.play.Pending()
}

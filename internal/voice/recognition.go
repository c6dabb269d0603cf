package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antoniostano/lingopal/internal/audio"
	"github.com/antoniostano/lingopal/internal/language"
	"github.com/antoniostano/lingopal/internal/observability"
	"github.com/antoniostano/lingopal/internal/speech"
)

// CaptureDevice hands out microphone streams.
type CaptureDevice interface {
	Open(ctx context.Context) (CaptureStream, error)
}

// CaptureStream delivers blocks of per-channel float samples in [-1, 1].
// process runs on the capture thread; after Close returns it is never called
// again.
type CaptureStream interface {
	SampleRate() int
	Start(process func(block [][]float32)) error
	Close() error
}

type RecognitionState int

const (
	StateIdle RecognitionState = iota
	StateInitializing
	StateRecording
	StateStopping
)

func (s RecognitionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

type RecognitionConfig struct {
	Device        CaptureDevice
	Recognizer    speech.Recognizer
	Language      language.Language
	WorkletBuffer int
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// RecognitionSession owns one capture stream and one recognition channel for
// a single recording. Captured audio is streamed to the recognizer as mono
// PCM16 and kept locally per channel for export.
type RecognitionSession struct {
	cfg    RecognitionConfig
	logger *slog.Logger

	mu          sync.Mutex
	state       RecognitionState
	used        bool
	released    bool
	stream      CaptureStream
	worklet     *audio.Worklet
	recognition speech.Recognition
	sampleRate  int
	blocks      [][][]int16
	text        string

	consumerDone chan struct{}
	resultsDone  chan struct{}
}

func NewRecognitionSession(cfg RecognitionConfig) *RecognitionSession {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RecognitionSession{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "recognition"), slog.String("language", cfg.Language.Locale)),
	}
}

// Init acquires the capture stream and the recognition channel and starts
// feeding audio. On failure everything acquired so far is released.
func (s *RecognitionSession) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.used || s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: init from %s", ErrInvalidState, s.state)
	}
	s.used = true
	s.state = StateInitializing
	s.mu.Unlock()

	if s.cfg.Device == nil {
		s.ReleaseResources()
		return wrapKind(ErrDeviceAcquisition, errors.New("no capture device"))
	}
	stream, err := s.cfg.Device.Open(ctx)
	if err != nil {
		s.ReleaseResources()
		return wrapKind(ErrDeviceAcquisition, err)
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("%w: released during init", ErrInvalidState)
	}
	s.stream = stream
	s.sampleRate = stream.SampleRate()
	s.mu.Unlock()

	if s.cfg.Recognizer == nil {
		s.ReleaseResources()
		return wrapKind(ErrChannelSetup, errors.New("no recognizer configured"))
	}
	rec, err := s.cfg.Recognizer.Open(ctx, speech.RecognitionConfig{
		Locale:     s.cfg.Language.SpeechName,
		SampleRate: stream.SampleRate(),
	})
	if err != nil {
		s.ReleaseResources()
		return wrapKind(ErrChannelSetup, err)
	}

	worklet := audio.NewWorklet(s.cfg.WorkletBuffer, s.cfg.Metrics.WorkletDropped)
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		worklet.Close()
		_ = rec.Close()
		return fmt.Errorf("%w: released during init", ErrInvalidState)
	}
	s.recognition = rec
	s.worklet = worklet
	s.consumerDone = make(chan struct{})
	s.resultsDone = make(chan struct{})
	s.mu.Unlock()

	go s.consume(worklet, rec.Input(), s.consumerDone)
	go s.collect(rec.Results(), s.resultsDone)

	if err := stream.Start(func(block [][]float32) { worklet.Process(block) }); err != nil {
		s.ReleaseResources()
		return wrapKind(ErrDeviceAcquisition, err)
	}
	return nil
}

// Start begins continuous recognition and returns once the service
// acknowledged it. On failure the caller should ReleaseResources.
func (s *RecognitionSession) Start(ctx context.Context) error {
	s.mu.Lock()
	rec := s.recognition
	state := s.state
	s.mu.Unlock()
	if state != StateInitializing || rec == nil {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, state)
	}

	begin := time.Now()
	if err := rec.Start(ctx); err != nil {
		return wrapKind(ErrChannelStart, err)
	}
	s.cfg.Metrics.ObserveStage(observability.StageRecognitionStart, time.Since(begin))

	s.mu.Lock()
	if s.state == StateInitializing {
		s.state = StateRecording
	}
	s.mu.Unlock()
	return nil
}

// consume drains worklet messages: interim blocks are kept for export, final
// mono blocks go to the recognizer.
func (s *RecognitionSession) consume(w *audio.Worklet, input speech.PushStream, done chan struct{}) {
	defer close(done)
	warned := false
	for msg := range w.Messages() {
		switch msg.Kind {
		case audio.WorkletInterim:
			s.mu.Lock()
			if !s.released {
				s.blocks = append(s.blocks, msg.Channels)
			}
			s.mu.Unlock()
		case audio.WorkletFinal:
			if err := input.Write(audio.PCM16ToBytes(msg.Mono)); err != nil && !warned && !errors.Is(err, speech.ErrClosed) {
				s.logger.Warn("recognition input write failed", slog.String("error", err.Error()))
				warned = true
			}
		}
	}
}

func (s *RecognitionSession) collect(results <-chan speech.RecognitionResult, done chan struct{}) {
	defer close(done)
	for res := range results {
		switch res.Reason {
		case speech.RecognizedSpeech:
			s.mu.Lock()
			if !s.released {
				s.text = s.cfg.Language.Join(s.text, res.Text)
			}
			s.mu.Unlock()
		case speech.NoMatch:
			s.logger.Info("speech could not be recognized")
		case speech.Canceled:
			s.logger.Warn("recognition canceled",
				slog.String("code", res.Code),
				slog.String("detail", res.Detail),
				slog.Bool("retryable", res.Retryable),
			)
			s.cfg.Metrics.ProviderError("recognition", res.Code)
		}
	}
}

// StopAndGetResult disconnects capture, closes the push stream, then asks the
// service to stop. The accumulated text is returned even when the remote stop
// fails.
func (s *RecognitionSession) StopAndGetResult(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state == StateIdle {
		text := s.text
		s.mu.Unlock()
		return text, nil
	}
	s.state = StateStopping
	stream, worklet, rec := s.stream, s.worklet, s.recognition
	consumerDone, resultsDone := s.consumerDone, s.resultsDone
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Warn("closing capture stream", slog.String("error", err.Error()))
		}
	}
	if worklet != nil {
		worklet.Close()
		waitDone(ctx, consumerDone)
	}
	if rec != nil {
		if err := rec.Input().Close(); err != nil {
			s.logger.Warn("closing recognition input", slog.String("error", err.Error()))
		}
		if err := rec.Stop(ctx); err != nil {
			s.logger.Warn("remote recognition stop failed", slog.String("error", err.Error()))
		}
		if err := rec.Close(); err != nil {
			s.logger.Warn("closing recognition channel", slog.String("error", err.Error()))
		}
		waitDone(ctx, resultsDone)
	}

	s.mu.Lock()
	s.state = StateIdle
	text := s.text
	s.mu.Unlock()
	return text, nil
}

func waitDone(ctx context.Context, done <-chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// ExportAudio encodes the captured blocks as WAV at the capture sample rate.
func (s *RecognitionSession) ExportAudio() ([]byte, error) {
	s.mu.Lock()
	blocks := make([][][]int16, len(s.blocks))
	copy(blocks, s.blocks)
	rate := s.sampleRate
	s.mu.Unlock()
	if len(blocks) == 0 {
		return []byte{}, nil
	}
	return audio.EncodeBlocks(rate, blocks)
}

// ReleaseResources closes every handle the session holds. It may be called
// from any state, any number of times. After it returns, captured audio and
// text no longer change.
func (s *RecognitionSession) ReleaseResources() {
	s.mu.Lock()
	s.released = true
	stream, worklet, rec := s.stream, s.worklet, s.recognition
	s.stream, s.worklet, s.recognition = nil, nil, nil
	s.state = StateIdle
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			s.logger.Debug("release capture stream", slog.String("error", err.Error()))
		}
	}
	if worklet != nil {
		worklet.Close()
	}
	if rec != nil {
		if err := rec.Input().Close(); err != nil {
			s.logger.Debug("release recognition input", slog.String("error", err.Error()))
		}
		if err := rec.Close(); err != nil {
			s.logger.Debug("release recognition channel", slog.String("error", err.Error()))
		}
	}
}

func (s *RecognitionSession) State() RecognitionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the text recognized so far.
func (s *RecognitionSession) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// SampleRate returns the negotiated capture rate, or 0 before Init.
func (s *RecognitionSession) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleRate
}

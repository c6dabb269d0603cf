package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/antoniostano/lingopal/internal/audio"
	"github.com/antoniostano/lingopal/internal/voice"
)

// MalgoCapture opens the default microphone through miniaudio.
type MalgoCapture struct {
	sampleRate int
	channels   int
}

func NewMalgoCapture(sampleRate, channels int) *MalgoCapture {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &MalgoCapture{sampleRate: sampleRate, channels: channels}
}

func (c *MalgoCapture) Open(ctx context.Context) (voice.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &malgoStream{mctx: mctx, sampleRate: c.sampleRate, channels: c.channels}, nil
}

type malgoStream struct {
	mctx       *malgo.AllocatedContext
	sampleRate int
	channels   int

	mu      sync.Mutex
	device  *malgo.Device
	process func([][]float32)
	closed  bool
}

func (s *malgoStream) SampleRate() int { return s.sampleRate }

func (s *malgoStream) Start(process func(block [][]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("capture stream closed")
	}
	s.process = process

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.channels)
	cfg.SampleRate = uint32(s.sampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(s.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { s.onData(input) },
	})
	if err != nil {
		return fmt.Errorf("init microphone: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}
	s.device = device
	return nil
}

// onData runs on the miniaudio thread.
func (s *malgoStream) onData(input []byte) {
	samples, err := audio.BytesToPCM16(input)
	if err != nil || len(samples) == 0 {
		return
	}
	block := audio.Deinterleave(samples, s.channels)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.process != nil {
		s.process(block)
	}
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.process = nil
	device := s.device
	s.device = nil
	s.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if s.mctx != nil {
		_ = s.mctx.Uninit()
		s.mctx.Free()
	}
	return nil
}

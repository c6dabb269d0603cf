package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/antoniostano/lingopal/internal/audio"
	"github.com/antoniostano/lingopal/internal/protocol"
	"github.com/antoniostano/lingopal/internal/voice"
)

var errSocketClosed = errors.New("session socket closed")

// remoteCapture is a capture device fed by client_audio_chunk frames. Only the
// most recently opened stream receives audio.
type remoteCapture struct {
	sampleRate int

	mu      sync.Mutex
	current *remoteStream
}

func newRemoteCapture(sampleRate int) *remoteCapture {
	return &remoteCapture{sampleRate: sampleRate}
}

func (c *remoteCapture) Open(_ context.Context) (voice.CaptureStream, error) {
	s := &remoteStream{capture: c}
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	return s, nil
}

// Feed hands one client frame to the running stream. Frames arriving while
// nothing is recording are dropped.
func (c *remoteCapture) Feed(chunk protocol.ClientAudioChunk) error {
	if chunk.SampleRate != c.sampleRate {
		return fmt.Errorf("audio chunk at %d Hz, session records at %d Hz", chunk.SampleRate, c.sampleRate)
	}
	raw, err := base64.StdEncoding.DecodeString(chunk.PCM16Base64)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	samples, err := audio.BytesToPCM16(raw)
	if err != nil {
		return fmt.Errorf("decode audio chunk: %w", err)
	}
	block := audio.Deinterleave(samples, chunk.Channels)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.process != nil {
		c.current.process(block)
	}
	return nil
}

type remoteStream struct {
	capture *remoteCapture
	process func([][]float32)
}

func (s *remoteStream) SampleRate() int { return s.capture.sampleRate }

func (s *remoteStream) Start(process func(block [][]float32)) error {
	s.capture.mu.Lock()
	defer s.capture.mu.Unlock()
	s.process = process
	return nil
}

func (s *remoteStream) Close() error {
	s.capture.mu.Lock()
	defer s.capture.mu.Unlock()
	s.process = nil
	if s.capture.current == s {
		s.capture.current = nil
	}
	return nil
}

// socketPlayer sends each clip to the client as a WAV chunk and waits for the
// matching playback_done ack. A client that never acks is assumed to have
// played the clip once its duration plus grace has passed.
type socketPlayer struct {
	sessionID string
	grace     time.Duration
	send      func(any) bool

	mu   sync.Mutex
	seq  int
	acks map[int]chan struct{}
}

func newSocketPlayer(sessionID string, grace time.Duration, send func(any) bool) *socketPlayer {
	return &socketPlayer{
		sessionID: sessionID,
		grace:     grace,
		send:      send,
		acks:      make(map[int]chan struct{}),
	}
}

func (p *socketPlayer) Play(ctx context.Context, clip voice.Clip) error {
	wav, err := audio.EncodeRaw(clip.SampleRate, clip.Channels, clip.PCM)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.seq++
	seq := p.seq
	ack := make(chan struct{})
	p.acks[seq] = ack
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.acks, seq)
		p.mu.Unlock()
	}()

	if !p.send(protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   p.sessionID,
		Seq:         seq,
		Format:      "wav",
		SampleRate:  clip.SampleRate,
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
	}) {
		return errSocketClosed
	}

	timer := time.NewTimer(clip.Duration() + p.grace)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ack marks clip seq as played. Unknown or repeated acks are ignored.
func (p *socketPlayer) Ack(seq int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ack, ok := p.acks[seq]; ok {
		close(ack)
		delete(p.acks, seq)
	}
}

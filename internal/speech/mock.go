package speech

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Mock is an offline recognizer and synthesizer used when no speech service is configured.
type Mock struct {
	SampleRate int
	// PerRune is the synthesized duration per character of text.
	PerRune time.Duration
}

func NewMock(sampleRate int) *Mock {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Mock{SampleRate: sampleRate, PerRune: 40 * time.Millisecond}
}

func (m *Mock) Open(_ context.Context, _ RecognitionConfig) (Recognition, error) {
	r := &mockRecognition{results: make(chan RecognitionResult, 64)}
	r.input = &mockPushStream{r: r}
	return r, nil
}

type mockRecognition struct {
	mu      sync.Mutex
	input   *mockPushStream
	results chan RecognitionResult
	written int
	closed  bool
}

func (r *mockRecognition) Input() PushStream                 { return r.input }
func (r *mockRecognition) Results() <-chan RecognitionResult { return r.results }
func (r *mockRecognition) Start(_ context.Context) error     { return nil }

func (r *mockRecognition) Stop(_ context.Context) error {
	return r.input.Close()
}

func (r *mockRecognition) commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.written == 0 {
		r.results <- RecognitionResult{Reason: NoMatch}
		return
	}
	r.results <- RecognitionResult{Reason: RecognizedSpeech, Text: "simulated voice input"}
}

func (r *mockRecognition) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.results)
	return nil
}

type mockPushStream struct {
	r      *mockRecognition
	mu     sync.Mutex
	closed bool
}

func (p *mockPushStream) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.r.mu.Lock()
	p.r.written += len(pcm)
	p.r.mu.Unlock()
	return nil
}

func (p *mockPushStream) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.r.commit()
	return nil
}

// Synthesizer returns the synthesis side of the mock.
func (m *Mock) Synthesizer() Synthesizer { return mockSynthesizer{m} }

type mockSynthesizer struct{ m *Mock }

func (s mockSynthesizer) Open(_ context.Context) (SynthesisChannel, error) {
	return &mockChannel{m: s.m}, nil
}

type mockChannel struct {
	m      *Mock
	mu     sync.Mutex
	closed bool
}

// Synthesize renders a quiet tone whose length follows the text length.
func (c *mockChannel) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyAudio
	}
	d := time.Duration(utf8.RuneCountInString(text)) * c.m.PerRune
	frames := int(d * time.Duration(c.m.SampleRate) / time.Second)
	pcm := make([]byte, frames*2)
	freq := 220 + float64(len(text)%8)*30
	for i := 0; i < frames; i++ {
		v := int16(1200 * math.Sin(2*math.Pi*freq*float64(i)/float64(c.m.SampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm, nil
}

func (c *mockChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

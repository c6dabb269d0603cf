package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/lingopal/internal/speech"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSynthesizer returns pcm(text) after delay(text), or fails for texts in fail.
type fakeSynthesizer struct {
	openErr error
	delay   func(text string) time.Duration
	fail    map[string]bool
	gate    map[string]chan struct{}

	mu     sync.Mutex
	calls  []string
	closed int
}

func pcmFor(text string) []byte {
	out := make([]byte, 0, len(text)*2)
	for i := 0; i < len(text); i++ {
		out = append(out, text[i], text[i])
	}
	return out
}

func (f *fakeSynthesizer) Open(context.Context) (speech.SynthesisChannel, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f, nil
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req speech.SynthesisRequest) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Text)
	gate := f.gate[req.Text]
	f.mu.Unlock()

	if f.delay != nil {
		time.Sleep(f.delay(req.Text))
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[req.Text] {
		return nil, errors.New("synthesis backend error")
	}
	return pcmFor(req.Text), nil
}

func (f *fakeSynthesizer) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeSynthesizer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakePlayer records played clips. block, when set, makes Play wait for ctx
// cancellation on the clip whose first byte matches.
type fakePlayer struct {
	block   map[byte]bool
	started chan byte

	mu          sync.Mutex
	played      []byte
	interrupted []byte
	active      atomic.Int32
	overlapped  atomic.Bool
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{started: make(chan byte, 64), block: map[byte]bool{}}
}

func (p *fakePlayer) Play(ctx context.Context, clip Clip) error {
	if p.active.Add(1) > 1 {
		p.overlapped.Store(true)
	}
	defer p.active.Add(-1)

	id := clip.PCM[0]
	p.mu.Lock()
	p.played = append(p.played, id)
	p.mu.Unlock()
	p.started <- id

	if p.block[id] {
		<-ctx.Done()
		p.mu.Lock()
		p.interrupted = append(p.interrupted, id)
		p.mu.Unlock()
		return ctx.Err()
	}
	time.Sleep(time.Millisecond)
	return nil
}

func (p *fakePlayer) Played() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.played...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

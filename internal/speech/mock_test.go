package speech

import (
	"context"
	"errors"
	"testing"
)

func TestMockRecognitionCommitsOnStop(t *testing.T) {
	rec, err := NewMock(16000).Open(context.Background(), RecognitionConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := rec.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rec.Input().Write([]byte{1, 2}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := rec.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	res := <-rec.Results()
	if res.Reason != RecognizedSpeech || res.Text == "" {
		t.Fatalf("result = %+v, want recognized speech", res)
	}
	if err := rec.Input().Write([]byte{1, 2}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() after stop error = %v, want ErrClosed", err)
	}
	_ = rec.Close()
	_ = rec.Close()
	if _, ok := <-rec.Results(); ok {
		t.Fatalf("Results() still open after Close")
	}
}

func TestMockSynthesizeLengthFollowsText(t *testing.T) {
	ch, _ := NewMock(24000).Synthesizer().Open(context.Background())
	short, err := ch.Synthesize(context.Background(), SynthesisRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	long, _ := ch.Synthesize(context.Background(), SynthesisRequest{Text: "hello there"})
	if len(short) != 2*24000*80/1000 {
		t.Fatalf("len(short) = %d, want %d", len(short), 2*24000*80/1000)
	}
	if len(long) <= len(short) {
		t.Fatalf("len(long) = %d, want > %d", len(long), len(short))
	}
	if _, err := ch.Synthesize(context.Background(), SynthesisRequest{Text: "  "}); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("Synthesize(blank) error = %v, want ErrEmptyAudio", err)
	}
}

package speech

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverPair builds a recognizer and synthesizer that prefer the primary
// backend and switch to the fallback when opening a primary channel fails.
// Once the fallback succeeds it stays active until it fails; then the primary
// is retried.
func NewFailoverPair(primaryRec Recognizer, primarySyn Synthesizer, fallbackRec Recognizer, fallbackSyn Synthesizer) (Recognizer, Synthesizer) {
	state := &failoverState{}
	return &failoverRecognizer{state: state, primary: primaryRec, fallback: fallbackRec},
		&failoverSynthesizer{state: state, primary: primarySyn, fallback: fallbackSyn}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

// FallbackActive reports whether the pair currently routes to the fallback backend.
func FallbackActive(r Recognizer) bool {
	if f, ok := r.(*failoverRecognizer); ok {
		return f.state.fallbackActive.Load()
	}
	return false
}

type failoverRecognizer struct {
	state    *failoverState
	primary  Recognizer
	fallback Recognizer
}

func (p *failoverRecognizer) Open(ctx context.Context, cfg RecognitionConfig) (Recognition, error) {
	return openWithFailover(p.state, "recognition",
		func() (Recognition, error) { return p.primary.Open(ctx, cfg) },
		func() (Recognition, error) { return p.fallback.Open(ctx, cfg) },
	)
}

type failoverSynthesizer struct {
	state    *failoverState
	primary  Synthesizer
	fallback Synthesizer
}

func (p *failoverSynthesizer) Open(ctx context.Context) (SynthesisChannel, error) {
	return openWithFailover(p.state, "synthesis",
		func() (SynthesisChannel, error) { return p.primary.Open(ctx) },
		func() (SynthesisChannel, error) { return p.fallback.Open(ctx) },
	)
}

func openWithFailover[T any](state *failoverState, kind string, primary, fallback func() (T, error)) (T, error) {
	var zero T
	if state.fallbackActive.Load() {
		ch, fbErr := fallback()
		if fbErr == nil {
			return ch, nil
		}
		ch, prErr := primary()
		if prErr == nil {
			state.fallbackActive.Store(false)
			return ch, nil
		}
		return zero, fmt.Errorf("%s fallback failed: %v; %s primary failed: %w", kind, fbErr, kind, prErr)
	}

	ch, prErr := primary()
	if prErr == nil {
		return ch, nil
	}
	ch, fbErr := fallback()
	if fbErr != nil {
		return zero, fmt.Errorf("%s primary failed: %v; %s fallback failed: %w", kind, prErr, kind, fbErr)
	}
	state.fallbackActive.Store(true)
	return ch, nil
}

package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSerialStageRunsInOrderOneAtATime(t *testing.T) {
	var (
		mu      sync.Mutex
		got     []int
		active  atomic.Int32
		overlap atomic.Bool
	)
	s := NewSerialStage(func(n int) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Duration(10-n) * time.Millisecond)
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		active.Add(-1)
	})
	for i := 0; i < 10; i++ {
		if !s.Push(i) {
			t.Fatalf("Push(%d) = false", i)
		}
	}
	if err := s.Drain(testContext(t)); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	for i, n := range got {
		if n != i {
			t.Fatalf("order = %v, want 0..9", got)
		}
	}
	if overlap.Load() {
		t.Fatalf("handlers overlapped")
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", s.Pending())
	}
}

func TestSerialStageDrainOnIdleReturnsImmediately(t *testing.T) {
	s := NewSerialStage(func(int) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain() on idle stage error = %v", err)
	}
}

func TestSerialStageDrainHonorsContext(t *testing.T) {
	release := make(chan struct{})
	s := NewSerialStage(func(int) { <-release })
	defer close(release)
	s.Push(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Drain(ctx); err == nil {
		t.Fatalf("Drain() error = nil, want deadline exceeded")
	}
}

func TestSerialStageCloseRejectsPush(t *testing.T) {
	s := NewSerialStage(func(int) {})
	s.Close()
	if s.Push(1) {
		t.Fatalf("Push() after Close = true, want false")
	}
}

func TestSerialStageRestartsAfterIdle(t *testing.T) {
	var count atomic.Int32
	s := NewSerialStage(func(int) { count.Add(1) })
	ctx := testContext(t)
	s.Push(1)
	_ = s.Drain(ctx)
	s.Push(2)
	_ = s.Drain(ctx)
	if count.Load() != 2 {
		t.Fatalf("handled = %d, want 2", count.Load())
	}
}

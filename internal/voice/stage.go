package voice

import (
	"context"
	"sync"
)

// SerialStage runs handle for each pushed item in FIFO order, one at a time.
// The queue is unbounded so Push never blocks the producer.
type SerialStage[T any] struct {
	handle func(T)

	mu      sync.Mutex
	queue   []T
	pending int
	idle    chan struct{}
	running bool
	closed  bool
}

func NewSerialStage[T any](handle func(T)) *SerialStage[T] {
	idle := make(chan struct{})
	close(idle)
	return &SerialStage[T]{handle: handle, idle: idle}
}

// Push enqueues item. It returns false once the stage is closed.
func (s *SerialStage[T]) Push(item T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, item)
	s.pending++
	if s.pending == 1 {
		s.idle = make(chan struct{})
	}
	if !s.running {
		s.running = true
		go s.run()
	}
	return true
}

func (s *SerialStage[T]) run() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.handle(item)

		s.mu.Lock()
		s.pending--
		if s.pending == 0 {
			close(s.idle)
		}
		s.mu.Unlock()
	}
}

// Drain waits until every pushed item has been handled.
func (s *SerialStage[T]) Drain(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued or running items.
func (s *SerialStage[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Close rejects further pushes. Queued items still run.
func (s *SerialStage[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

package audio

import (
	"math"
	"sync"
	"sync/atomic"
)

// DefaultWorkletBuffer is the message capacity of a worklet created with a non-positive size.
const DefaultWorkletBuffer = 4096

// WorkletMessageKind tags a WorkletMessage.
type WorkletMessageKind int

const (
	// WorkletInterim carries the quantized per-channel block, kept for export.
	WorkletInterim WorkletMessageKind = iota
	// WorkletFinal carries the mono block, streamed to recognition.
	WorkletFinal
)

func (k WorkletMessageKind) String() string {
	switch k {
	case WorkletInterim:
		return "interim"
	case WorkletFinal:
		return "final"
	default:
		return "unknown"
	}
}

// WorkletMessage is one posting from the capture thread to the consumer.
type WorkletMessage struct {
	Kind     WorkletMessageKind
	Channels [][]int16
	Mono     []int16
}

// QuantizeSample maps a float sample to int16. Negative values scale by 32768,
// positive values by 32767, after clamping to [-1, 1].
func QuantizeSample(v float32) int16 {
	switch {
	case math.IsNaN(float64(v)):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7fff)
}

// Downmix quantizes a capture block (one float slice per channel) and derives
// its mono mix. A stereo block whose second channel is missing or short reuses
// the first channel.
func Downmix(block [][]float32) (channels [][]int16, mono []int16) {
	if len(block) == 0 {
		return nil, nil
	}
	left := quantize(block[0])
	if len(block) == 1 {
		return [][]int16{left}, left
	}

	right := make([]int16, len(left))
	mono = make([]int16, len(left))
	src := block[1]
	for i, l := range left {
		r := l
		if i < len(src) {
			r = QuantizeSample(src[i])
		}
		right[i] = r
		mono[i] = int16((int32(l) + int32(r)) / 2)
	}
	return [][]int16{left, right}, mono
}

func quantize(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		out[i] = QuantizeSample(v)
	}
	return out
}

// Worklet converts capture blocks into Interim and Final messages. Process is
// called from the capture thread and never blocks: when the consumer falls
// behind, messages are dropped and counted.
type Worklet struct {
	out     chan WorkletMessage
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	onDrop  func()
}

// NewWorklet creates a worklet with the given message capacity. onDrop, when
// non-nil, is invoked for every dropped message.
func NewWorklet(buffer int, onDrop func()) *Worklet {
	if buffer <= 0 {
		buffer = DefaultWorkletBuffer
	}
	return &Worklet{
		out:    make(chan WorkletMessage, buffer),
		onDrop: onDrop,
	}
}

// Messages returns the consumer side of the worklet.
func (w *Worklet) Messages() <-chan WorkletMessage {
	return w.out
}

// Process handles one capture block. It returns false once the worklet is closed.
func (w *Worklet) Process(block [][]float32) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	if len(block) == 0 {
		return true
	}
	channels, mono := Downmix(block)
	w.post(WorkletMessage{Kind: WorkletInterim, Channels: channels})
	w.post(WorkletMessage{Kind: WorkletFinal, Mono: mono})
	return true
}

func (w *Worklet) post(msg WorkletMessage) {
	select {
	case w.out <- msg:
	default:
		w.dropped.Add(1)
		if w.onDrop != nil {
			w.onDrop()
		}
	}
}

// Dropped returns the number of messages lost to a slow consumer.
func (w *Worklet) Dropped() int64 {
	return w.dropped.Load()
}

// Close disconnects the producer and closes the message channel. Safe to call
// more than once.
func (w *Worklet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.out)
}

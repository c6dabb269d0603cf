package audio

import "testing"

func TestQuantizeSample(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{0.5, 16383},
		{-0.5, -16384},
		{2, 32767},
		{-3, -32768},
	}
	for _, tt := range tests {
		if got := QuantizeSample(tt.in); got != tt.want {
			t.Fatalf("QuantizeSample(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDownmixEqualChannelsMatchesQuantized(t *testing.T) {
	values := []float32{-1, -0.75, -0.25, 0, 0.1, 0.5, 0.999, 1}
	channels, mono := Downmix([][]float32{values, values})
	if len(channels) != 2 {
		t.Fatalf("channels = %d, want 2", len(channels))
	}
	for i, v := range values {
		want := QuantizeSample(v)
		if mono[i] != want {
			t.Fatalf("mono[%d] = %d, want %d", i, mono[i], want)
		}
		if channels[0][i] != want || channels[1][i] != want {
			t.Fatalf("channels[*][%d] = %d/%d, want %d", i, channels[0][i], channels[1][i], want)
		}
	}
}

func TestDownmixAveragesStereo(t *testing.T) {
	_, mono := Downmix([][]float32{{1, -1}, {0, 0}})
	if mono[0] != 16383 || mono[1] != -16384 {
		t.Fatalf("mono = %v, want [16383 -16384]", mono)
	}
}

func TestDownmixMissingSecondChannel(t *testing.T) {
	channels, mono := Downmix([][]float32{{0.5, -0.5}, nil})
	if channels[1][0] != channels[0][0] || channels[1][1] != channels[0][1] {
		t.Fatalf("second channel = %v, want copy of %v", channels[1], channels[0])
	}
	if mono[0] != QuantizeSample(0.5) {
		t.Fatalf("mono[0] = %d, want %d", mono[0], QuantizeSample(0.5))
	}
}

func TestDownmixMono(t *testing.T) {
	channels, mono := Downmix([][]float32{{0.25}})
	if len(channels) != 1 || mono[0] != QuantizeSample(0.25) {
		t.Fatalf("Downmix() = %v, %v", channels, mono)
	}
}

func TestWorkletPostsInterimThenFinal(t *testing.T) {
	w := NewWorklet(8, nil)
	if !w.Process([][]float32{{0.5}, {0.5}}) {
		t.Fatalf("Process() = false, want true")
	}
	w.Close()

	var kinds []WorkletMessageKind
	for msg := range w.Messages() {
		kinds = append(kinds, msg.Kind)
	}
	if len(kinds) != 2 || kinds[0] != WorkletInterim || kinds[1] != WorkletFinal {
		t.Fatalf("kinds = %v, want [interim final]", kinds)
	}
}

func TestWorkletDropsWhenFull(t *testing.T) {
	drops := 0
	w := NewWorklet(2, func() { drops++ })
	w.Process([][]float32{{0.1}})
	w.Process([][]float32{{0.2}})
	if w.Dropped() != 2 || drops != 2 {
		t.Fatalf("Dropped() = %d, callbacks = %d, want 2", w.Dropped(), drops)
	}
}

func TestWorkletCloseIdempotent(t *testing.T) {
	w := NewWorklet(1, nil)
	w.Close()
	w.Close()
	if w.Process([][]float32{{0.1}}) {
		t.Fatalf("Process() after Close = true, want false")
	}
}

package audio

import (
	"encoding/binary"
	"errors"
	"time"
)

// ErrOddLength reports a PCM16 buffer that does not hold whole samples.
var ErrOddLength = errors.New("pcm16 buffer has odd length")

// PCM16ToBytes encodes samples as little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 decodes little-endian PCM16 bytes.
func BytesToPCM16(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// ClipDuration returns the playback length of a PCM16 buffer.
func ClipDuration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := byteLen / 2 / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// Deinterleave splits interleaved PCM16 frames into per-channel float blocks
// in [-1, 1). A trailing partial frame is dropped.
func Deinterleave(interleaved []int16, channels int) [][]float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(interleaved) / channels
	block := make([][]float32, channels)
	for ch := range block {
		block[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			block[ch][i] = float32(interleaved[i*channels+ch]) / 32768
		}
	}
	return block
}

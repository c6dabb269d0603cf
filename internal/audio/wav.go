package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/wav"
)

const (
	// WAVHeaderSize is the size of the canonical PCM RIFF/WAVE header.
	WAVHeaderSize = 44

	bitsPerSample = 16
	formatPCM     = 1
)

var (
	ErrInvalidWAV         = errors.New("invalid wav data")
	ErrUnsupportedChannel = errors.New("unsupported channel count")
)

// Metadata describes a WAV clip for waveform rendering.
type Metadata struct {
	Seconds       float64   `json:"duration"`
	VolumeBuckets []float64 `json:"volume_bins"`
}

// Duration returns Seconds as a time.Duration.
func (m Metadata) Duration() time.Duration {
	return time.Duration(m.Seconds * float64(time.Second))
}

// WriteWAVHeader writes a 44-byte PCM16LE header announcing dataLen bytes of samples.
func WriteWAVHeader(w io.Writer, sampleRate, channels, dataLen int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels < 1 || channels > 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannel, channels)
	}
	blockAlign := channels * bitsPerSample / 8

	var h [WAVHeaderSize]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))

	_, err := w.Write(h[:])
	return err
}

// EncodeBlocks encodes captured blocks, each holding one int16 slice per channel.
// The channel count is taken from the first block; a missing second channel is
// filled with the first. Zero blocks yield an empty artifact.
func EncodeBlocks(sampleRate int, blocks [][][]int16) ([]byte, error) {
	if len(blocks) == 0 {
		return []byte{}, nil
	}
	channels := len(blocks[0])
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChannel, channels)
	}

	total := 0
	for _, b := range blocks {
		if len(b) > 0 {
			total += len(b[0]) * channels
		}
	}
	merged := make([]int16, 0, total)
	for _, b := range blocks {
		if len(b) == 0 {
			continue
		}
		left := b[0]
		if channels == 1 {
			merged = append(merged, left...)
			continue
		}
		var right []int16
		if len(b) > 1 {
			right = b[1]
		}
		merged = appendInterleaved(merged, left, right)
	}
	return EncodeSamples(sampleRate, channels, merged)
}

// EncodeSamples encodes already interleaved samples.
func EncodeSamples(sampleRate, channels int, interleaved []int16) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(interleaved)*2)
	if err := WriteWAVHeader(&buf, sampleRate, channels, len(interleaved)*2); err != nil {
		return nil, err
	}
	buf.Write(PCM16ToBytes(interleaved))
	return buf.Bytes(), nil
}

// EncodeRaw wraps already encoded PCM16LE buffers, concatenated in order, in a WAV container.
func EncodeRaw(sampleRate, channels int, pcm ...[]byte) ([]byte, error) {
	total := 0
	for _, p := range pcm {
		total += len(p)
	}
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + total)
	if err := WriteWAVHeader(&buf, sampleRate, channels, total); err != nil {
		return nil, err
	}
	for _, p := range pcm {
		buf.Write(p)
	}
	return buf.Bytes(), nil
}

// DecodeMetadata recovers the clip duration and a smoothed volume envelope of
// bucketCount bins. Each bin is 0.4*RMS + 0.6*peak of its window; bins are then
// smoothed forward with smoothed[i] = 0.2*smoothed[i-1] + 0.8*raw[i].
func DecodeMetadata(data []byte, bucketCount int) (Metadata, error) {
	samples, sampleRate, channels, err := decodeSamples(data)
	if err != nil {
		return Metadata{}, err
	}

	meta := Metadata{
		Seconds: float64(len(samples)) / float64(channels) / float64(sampleRate),
	}
	if bucketCount > 0 {
		meta.VolumeBuckets = volumeEnvelope(samples, bucketCount)
	}
	return meta, nil
}

// DecodePCM returns the interleaved PCM16 samples of a WAV clip.
func DecodePCM(data []byte) (samples []int16, sampleRate, channels int, err error) {
	raw, sampleRate, channels, err := decodeSamples(data)
	if err != nil {
		return nil, 0, 0, err
	}
	samples = make([]int16, len(raw))
	for i, v := range raw {
		samples[i] = int16(v)
	}
	return samples, sampleRate, channels, nil
}

// decodeSamples parses a PCM16 WAV clip. A header announcing no data yields
// zero samples.
func decodeSamples(data []byte) (samples []int, sampleRate, channels int, err error) {
	if len(data) < WAVHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, ErrInvalidWAV
	}
	if binary.LittleEndian.Uint32(data[40:44]) == 0 || len(data) == WAVHeaderSize {
		channels = int(binary.LittleEndian.Uint16(data[22:24]))
		sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	} else {
		d := wav.NewDecoder(bytes.NewReader(data))
		d.ReadInfo()
		if err := d.Err(); err != nil {
			return nil, 0, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		if d.BitDepth != bitsPerSample {
			return nil, 0, 0, fmt.Errorf("%w: bit depth %d", ErrInvalidWAV, d.BitDepth)
		}
		buf, err := d.FullPCMBuffer()
		if err != nil {
			return nil, 0, 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		channels = int(d.NumChans)
		sampleRate = int(d.SampleRate)
		samples = buf.Data
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, 0, 0, fmt.Errorf("%w: channels=%d sample_rate=%d", ErrInvalidWAV, channels, sampleRate)
	}
	return samples, sampleRate, channels, nil
}

func volumeEnvelope(samples []int, bucketCount int) []float64 {
	raw := make([]float64, bucketCount)
	n := len(samples)
	if n > 0 {
		// Window b covers [b*n/bucketCount, (b+1)*n/bucketCount); clips
		// shorter than bucketCount reuse a sample rather than leave a gap.
		for b := 0; b < bucketCount; b++ {
			start := b * n / bucketCount
			end := (b + 1) * n / bucketCount
			if end <= start {
				start = min(start, n-1)
				end = start + 1
			}
			var sumSquares, peak float64
			for _, s := range samples[start:end] {
				v := normalizeSample(s)
				sumSquares += v * v
				peak = math.Max(peak, math.Abs(v))
			}
			raw[b] = 0.4*math.Sqrt(sumSquares/float64(end-start)) + 0.6*peak
		}
	}

	smoothed := make([]float64, bucketCount)
	smoothed[0] = raw[0]
	for i := 1; i < bucketCount; i++ {
		smoothed[i] = 0.2*smoothed[i-1] + 0.8*raw[i]
	}
	return smoothed
}

func normalizeSample(s int) float64 {
	if s < 0 {
		return float64(s) / 0x8000
	}
	return float64(s) / 0x7fff
}

func appendInterleaved(dst, left, right []int16) []int16 {
	for i, l := range left {
		r := l
		if i < len(right) {
			r = right[i]
		}
		dst = append(dst, l, r)
	}
	return dst
}

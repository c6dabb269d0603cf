package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/antoniostano/lingopal/internal/voice"
)

const pollInterval = 10 * time.Millisecond

// playback is the part of *oto.Player the speaker drives.
type playback interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

// OtoPlayer plays mono PCM16 clips on the default speaker. oto allows one
// context per process, so the sample rate is fixed at construction.
type OtoPlayer struct {
	sampleRate int
	channels   int
	newPlayer  func(r io.Reader) playback
}

func NewOtoPlayer(sampleRate int) (*OtoPlayer, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// 100ms at 16-bit mono.
		BufferSize: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready
	return &OtoPlayer{
		sampleRate: sampleRate,
		channels:   1,
		newPlayer:  func(r io.Reader) playback { return otoCtx.NewPlayer(r) },
	}, nil
}

// Play blocks until the clip finished playing or ctx is canceled.
func (p *OtoPlayer) Play(ctx context.Context, clip voice.Clip) error {
	if clip.SampleRate != p.sampleRate || clip.Channels != p.channels {
		return fmt.Errorf("clip format %d Hz/%d ch, speaker runs %d Hz/%d ch", clip.SampleRate, clip.Channels, p.sampleRate, p.channels)
	}
	if len(clip.PCM) == 0 {
		return nil
	}
	player := p.newPlayer(bytes.NewReader(clip.PCM))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// AzureOutputFormat matches the 24kHz mono PCM16 the playback path expects.
const AzureOutputFormat = "raw-24khz-16bit-mono-pcm"

type AzureConfig struct {
	Region       string
	SynthesisURL string
	HTTPClient   *http.Client
}

// AzureSynthesizer calls the Azure text-to-speech REST endpoint with a cached
// bearer token.
type AzureSynthesizer struct {
	cfg   AzureConfig
	creds *CredentialCache
}

func NewAzureSynthesizer(cfg AzureConfig, creds *CredentialCache) *AzureSynthesizer {
	if strings.TrimSpace(cfg.SynthesisURL) == "" {
		cfg.SynthesisURL = "https://" + cfg.Region + ".tts.speech.microsoft.com/cognitiveservices/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &AzureSynthesizer{cfg: cfg, creds: creds}
}

// Open validates the credential so a bad key fails at channel setup rather
// than on the first chunk.
func (s *AzureSynthesizer) Open(ctx context.Context) (SynthesisChannel, error) {
	if _, err := s.creds.RefreshIfExpired(ctx); err != nil {
		return nil, err
	}
	return &azureChannel{owner: s}, nil
}

type azureChannel struct {
	owner  *AzureSynthesizer
	closed atomic.Bool
}

func (c *azureChannel) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	cred, err := c.owner.creds.RefreshIfExpired(ctx)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.owner.cfg.SynthesisURL, strings.NewReader(BuildSSML(req)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.Token)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", AzureOutputFormat)
	httpReq.Header.Set("User-Agent", "lingopal")

	resp, err := c.owner.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if resp.StatusCode == http.StatusUnauthorized {
			c.owner.creds.Invalidate()
		}
		return nil, &StatusError{Provider: "azure", Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read azure audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	return pcm, nil
}

func (c *azureChannel) Close() error {
	c.closed.Store(true)
	return nil
}

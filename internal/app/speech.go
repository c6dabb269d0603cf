package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/lingopal/internal/config"
	"github.com/antoniostano/lingopal/internal/speech"
)

type speechSetup struct {
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	credentials *speech.CredentialCache
	provider    string
	detail      string
}

func resolveSpeech(cfg config.Config, logger *slog.Logger) (speechSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if mode == "" {
		mode = "auto"
	}
	hasAzure := strings.TrimSpace(cfg.AzureSpeechKey) != ""
	hasEleven := strings.TrimSpace(cfg.ElevenLabsAPIKey) != ""

	newAzure := func() (*speech.AzureSynthesizer, *speech.CredentialCache) {
		client := &http.Client{Timeout: 15 * time.Second}
		creds := speech.NewCredentialCache(
			speech.AzureTokenFetcher(client, speech.AzureTokenURL(cfg.AzureSpeechRegion), cfg.AzureSpeechKey, cfg.AzureSpeechRegion),
			nil,
		)
		return speech.NewAzureSynthesizer(speech.AzureConfig{Region: cfg.AzureSpeechRegion, HTTPClient: client}, creds), creds
	}
	newEleven := func() *speech.ElevenLabs {
		return speech.NewElevenLabs(speech.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			WSBaseURL:  cfg.ElevenLabsWSBaseURL,
			STTModelID: cfg.ElevenLabsSTTModel,
			TTSModelID: cfg.ElevenLabsTTSModel,
			VoiceID:    cfg.ElevenLabsTTSVoice,
			SampleRate: cfg.SynthesisSampleRate,
		})
	}
	mock := func(detail string) speechSetup {
		m := speech.NewMock(cfg.SynthesisSampleRate)
		return speechSetup{recognizer: m, synthesizer: m.Synthesizer(), provider: "mock", detail: detail}
	}

	switch mode {
	case "mock":
		return mock("mock"), nil
	case "elevenlabs":
		if !hasEleven {
			return speechSetup{}, fmt.Errorf("SPEECH_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		e := newEleven()
		return speechSetup{recognizer: e, synthesizer: e.Synthesizer(), provider: "elevenlabs", detail: "elevenlabs realtime"}, nil
	case "azure":
		if !hasAzure {
			return speechSetup{}, fmt.Errorf("SPEECH_PROVIDER=azure but AZURE_SPEECH_KEY is not set")
		}
		syn, creds := newAzure()
		if hasEleven {
			e := newEleven()
			return speechSetup{recognizer: e, synthesizer: syn, credentials: creds, provider: "azure", detail: "azure synthesis + elevenlabs recognition"}, nil
		}
		logger.Warn("azure has no server-side recognizer; learner speech is simulated")
		m := speech.NewMock(cfg.SynthesisSampleRate)
		return speechSetup{recognizer: m, synthesizer: syn, credentials: creds, provider: "azure", detail: "azure synthesis + mock recognition"}, nil
	case "auto":
		switch {
		case hasAzure && hasEleven:
			syn, creds := newAzure()
			e := newEleven()
			rec, pairSyn := speech.NewFailoverPair(e, syn, e, e.Synthesizer())
			return speechSetup{
				recognizer:  rec,
				synthesizer: pairSyn,
				credentials: creds,
				provider:    "azure",
				detail:      "azure synthesis + elevenlabs recognition (automatic elevenlabs synthesis fallback)",
			}, nil
		case hasEleven:
			e := newEleven()
			return speechSetup{recognizer: e, synthesizer: e.Synthesizer(), provider: "elevenlabs", detail: "elevenlabs realtime"}, nil
		case hasAzure:
			syn, creds := newAzure()
			m := speech.NewMock(cfg.SynthesisSampleRate)
			return speechSetup{recognizer: m, synthesizer: syn, credentials: creds, provider: "azure", detail: "azure synthesis + mock recognition"}, nil
		default:
			return mock("mock (no azure or elevenlabs key)"), nil
		}
	default:
		return speechSetup{}, fmt.Errorf("invalid SPEECH_PROVIDER: %q (expected auto|azure|elevenlabs|mock)", cfg.SpeechProvider)
	}
}

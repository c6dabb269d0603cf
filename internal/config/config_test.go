package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.SynthesisSampleRate != 24000 {
		t.Fatalf("SynthesisSampleRate = %d, want 24000", cfg.SynthesisSampleRate)
	}
	if cfg.LLMHistoryWindow != 8 {
		t.Fatalf("LLMHistoryWindow = %d, want 8", cfg.LLMHistoryWindow)
	}
	if cfg.SpeechProvider != "auto" || cfg.LLMProvider != "auto" {
		t.Fatalf("providers = %q/%q, want auto/auto", cfg.SpeechProvider, cfg.LLMProvider)
	}
	if cfg.HistoryURL != "" {
		t.Fatalf("HistoryURL = %q, want empty default", cfg.HistoryURL)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v, want INFO", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("SPEECH_PROVIDER", "Azure")
	t.Setenv("AZURE_SPEECH_REGION", "westeurope")
	t.Setenv("PLAYBACK_ACK_GRACE", "750ms")
	t.Setenv("LLM_HISTORY_WINDOW", "12")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("HISTORY_URL", "sqlite:/tmp/history.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9191")
	}
	if cfg.SpeechProvider != "azure" {
		t.Fatalf("SpeechProvider = %q, want azure", cfg.SpeechProvider)
	}
	if cfg.AzureSpeechRegion != "westeurope" {
		t.Fatalf("AzureSpeechRegion = %q, want westeurope", cfg.AzureSpeechRegion)
	}
	if cfg.PlaybackAckGrace != 750*time.Millisecond {
		t.Fatalf("PlaybackAckGrace = %v, want 750ms", cfg.PlaybackAckGrace)
	}
	if cfg.LLMHistoryWindow != 12 {
		t.Fatalf("LLMHistoryWindow = %d, want 12", cfg.LLMHistoryWindow)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
	if cfg.HistoryURL != "sqlite:/tmp/history.db" {
		t.Fatalf("HistoryURL = %q", cfg.HistoryURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SPEECH_PROVIDER":                "carrier-pigeon",
		"LLM_PROVIDER":                   "oracle",
		"SYNTHESIS_SAMPLE_RATE":          "0",
		"LLM_HISTORY_WINDOW":             "nope",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"APP_ALLOW_ANY_ORIGIN":           "maybe",
		"APP_LOG_LEVEL":                  "loud",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"SPEECH_PROVIDER",
		"AZURE_SPEECH_KEY",
		"AZURE_SPEECH_REGION",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_STT_MODEL_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_TTS_VOICE_ID",
		"SYNTHESIS_SAMPLE_RATE",
		"PLAYBACK_ACK_GRACE",
		"WORKLET_BUFFER",
		"LLM_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_MODEL",
		"OPENAI_ORGANIZATION",
		"OPENAI_BASE_URL",
		"LLM_HTTP_URL",
		"LLM_HISTORY_WINDOW",
		"HISTORY_URL",
		"LANGUAGES_FILE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the language-practice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 slog.Level

	AllowAnyOrigin bool

	SpeechProvider string

	AzureSpeechKey    string
	AzureSpeechRegion string

	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string
	ElevenLabsSTTModel  string
	ElevenLabsTTSModel  string
	ElevenLabsTTSVoice  string
	SynthesisSampleRate int
	PlaybackAckGrace    time.Duration
	WorkletBuffer       int

	LLMProvider        string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIOrganization string
	OpenAIBaseURL      string
	LLMHTTPURL         string
	LLMHistoryWindow   int

	HistoryURL    string
	LanguagesFile string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "lingopal"),
		SpeechProvider:      strings.ToLower(envOrDefault("SPEECH_PROVIDER", "auto")),
		AzureSpeechKey:      stringsTrimSpace("AZURE_SPEECH_KEY"),
		AzureSpeechRegion:   envOrDefault("AZURE_SPEECH_REGION", "eastus"),
		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsSTTModel:  envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v2_realtime"),
		ElevenLabsTTSModel:  envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsTTSVoice:  envOrDefault("ELEVENLABS_TTS_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		LLMProvider:         strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:         envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIOrganization:  stringsTrimSpace("OPENAI_ORGANIZATION"),
		OpenAIBaseURL:       stringsTrimSpace("OPENAI_BASE_URL"),
		LLMHTTPURL:          stringsTrimSpace("LLM_HTTP_URL"),
		HistoryURL:          stringsTrimSpace("HISTORY_URL"),
		LanguagesFile:       stringsTrimSpace("LANGUAGES_FILE"),
		// 24kHz matches the raw-24khz-16bit-mono-pcm synthesis output format.
		SynthesisSampleRate:      24000,
		LLMHistoryWindow:         8,
		WorkletBuffer:            4096,
		PlaybackAckGrace:         2 * time.Second,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
		LogLevel:                 slog.LevelInfo,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackAckGrace, err = durationFromEnv("PLAYBACK_ACK_GRACE", cfg.PlaybackAckGrace)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesisSampleRate, err = intFromEnv("SYNTHESIS_SAMPLE_RATE", cfg.SynthesisSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMHistoryWindow, err = intFromEnv("LLM_HISTORY_WINDOW", cfg.LLMHistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkletBuffer, err = intFromEnv("WORKLET_BUFFER", cfg.WorkletBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel, err = levelFromEnv("APP_LOG_LEVEL", cfg.LogLevel)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SynthesisSampleRate <= 0 {
		return Config{}, fmt.Errorf("SYNTHESIS_SAMPLE_RATE must be positive")
	}
	if cfg.LLMHistoryWindow <= 0 {
		return Config{}, fmt.Errorf("LLM_HISTORY_WINDOW must be positive")
	}
	if cfg.WorkletBuffer <= 0 {
		return Config{}, fmt.Errorf("WORKLET_BUFFER must be positive")
	}
	if cfg.PlaybackAckGrace < 0 {
		return Config{}, fmt.Errorf("PLAYBACK_ACK_GRACE must be >= 0")
	}
	switch cfg.SpeechProvider {
	case "auto", "azure", "elevenlabs", "mock":
	default:
		return Config{}, fmt.Errorf("SPEECH_PROVIDER must be one of auto|azure|elevenlabs|mock, got %q", cfg.SpeechProvider)
	}
	switch cfg.LLMProvider {
	case "auto", "openai", "http", "mock":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of auto|openai|http|mock, got %q", cfg.LLMProvider)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback, fmt.Errorf("%s parse error: %w", key, err)
	}
	return level, nil
}

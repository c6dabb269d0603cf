package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/antoniostano/lingopal/internal/config"
	"github.com/antoniostano/lingopal/internal/history"
	"github.com/antoniostano/lingopal/internal/httpapi"
	"github.com/antoniostano/lingopal/internal/language"
	"github.com/antoniostano/lingopal/internal/llm"
	"github.com/antoniostano/lingopal/internal/observability"
	"github.com/antoniostano/lingopal/internal/session"
	"github.com/antoniostano/lingopal/internal/speech"
)

type SpeechInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Sessions    *session.Manager
	Languages   *language.Catalog
	LLM         llm.Adapter
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	Credentials *speech.CredentialCache
	History     history.Store
	Metrics     *observability.Metrics
	Speech      SpeechInfo

	// Cleanup should be called on shutdown to release the history store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	languages := language.Default()
	if cfg.LanguagesFile != "" {
		loaded, err := language.Load(cfg.LanguagesFile)
		if err != nil {
			return nil, fmt.Errorf("language catalog init failed: %w", err)
		}
		languages = loaded
	}

	adapter, err := llm.NewAdapter(llm.Config{
		Provider:     cfg.LLMProvider,
		APIKey:       cfg.OpenAIAPIKey,
		Model:        cfg.OpenAIModel,
		Organization: cfg.OpenAIOrganization,
		BaseURL:      cfg.OpenAIBaseURL,
		HTTPURL:      cfg.LLMHTTPURL,
	})
	if err != nil {
		return nil, fmt.Errorf("llm adapter init failed: %w", err)
	}

	setup, err := resolveSpeech(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := history.NewStore(ctx, cfg.HistoryURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEnded("inactive")
		logger.Info("session expired", slog.String("session_id", s.ID), slog.Int("turns", s.TurnCount))
	})

	api := httpapi.New(httpapi.Deps{
		Config:      cfg,
		Sessions:    sessions,
		Languages:   languages,
		LLM:         adapter,
		Recognizer:  setup.recognizer,
		Synthesizer: setup.synthesizer,
		Credentials: setup.credentials,
		History:     store,
		Metrics:     metrics,
		Logger:      logger,
	})

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Languages:   languages,
		LLM:         adapter,
		Recognizer:  setup.recognizer,
		Synthesizer: setup.synthesizer,
		Credentials: setup.credentials,
		History:     store,
		Metrics:     metrics,
		Speech:      SpeechInfo{Provider: setup.provider, Detail: setup.detail},
		Cleanup:     store.Close,
	}, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/antoniostano/lingopal/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "lingopal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lingopal",
		Short: "Spoken language practice with an AI conversation partner",
		Long: `lingopal runs a conversation partner that listens, transcribes, replies
through a language model and speaks the reply back, one sentence at a time.

Providers are configured through the environment (OPENAI_API_KEY,
AZURE_SPEECH_KEY, ELEVENLABS_API_KEY, HISTORY_URL, ...). Without keys the
mock providers are used.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newPracticeCmd(), newReplayCmd())
	return root
}

// loadConfig reads the environment and builds the process logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

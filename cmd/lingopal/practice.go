package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/antoniostano/lingopal/internal/app"
	"github.com/antoniostano/lingopal/internal/chat"
	"github.com/antoniostano/lingopal/internal/config"
	"github.com/antoniostano/lingopal/internal/device"
	"github.com/antoniostano/lingopal/internal/history"
	"github.com/antoniostano/lingopal/internal/llm"
	"github.com/antoniostano/lingopal/internal/voice"
)

type practiceOptions struct {
	locale         string
	voiceCode      string
	level          string
	selfIntro      string
	scenario       string
	userID         string
	conversationID string
	captureRate    int
}

func newPracticeCmd() *cobra.Command {
	var opts practiceOptions
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Practice speaking through the local microphone and speakers",
		Long: `practice holds a conversation on this machine. Press Enter to start
recording and Enter again to send what was heard. Type a line to send it as
text, /stop to interrupt the partner, /quit to leave.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return runPractice(cmd.Context(), cfg, logger, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.locale, "language", "en", "practice language locale")
	f.StringVar(&opts.voiceCode, "voice", "", "synthesis voice code (default: the language's first voice)")
	f.StringVar(&opts.level, "level", "", "learner level, e.g. beginner")
	f.StringVar(&opts.selfIntro, "self-intro", "", "a few words about the learner")
	f.StringVar(&opts.scenario, "scenario", "", "role-play scenario for the partner")
	f.StringVar(&opts.userID, "user", "local", "user the conversation is saved under")
	f.StringVar(&opts.conversationID, "conversation", "", "resume a saved conversation")
	f.IntVar(&opts.captureRate, "capture-rate", 16000, "microphone sample rate in Hz")
	return cmd
}

func runPractice(ctx context.Context, cfg config.Config, logger *slog.Logger, opts practiceOptions, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Warn("closing history store", slog.String("error", err.Error()))
		}
	}()

	lang, err := result.Languages.Lookup(opts.locale)
	if err != nil {
		return err
	}
	player, err := device.NewOtoPlayer(cfg.SynthesisSampleRate)
	if err != nil {
		return fmt.Errorf("open speakers: %w", err)
	}
	conversationID := opts.conversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	printer := newTranscriptPrinter(out)
	practice := voice.NewPractice(voice.PracticeConfig{
		Device:     device.NewMalgoCapture(opts.captureRate, 1),
		Recognizer: result.Recognizer,
		Turn: voice.TurnConfig{
			LLM:         result.LLM,
			Synthesizer: result.Synthesizer,
			Player:      player,
			Language:    lang,
			VoiceCode:   opts.voiceCode,
			Prompt: llm.ChatPrompt{
				Level:     opts.level,
				SelfIntro: opts.selfIntro,
				Scenario:  opts.scenario,
			},
			HistoryWindow: cfg.LLMHistoryWindow,
			SampleRate:    cfg.SynthesisSampleRate,
		},
		WorkletBuffer: cfg.WorkletBuffer,
		Observer:      printer.observe,
		OnTurn: func(messages []chat.Message) {
			saveLocalConversation(ctx, result.History, logger, history.Conversation{
				ID:       conversationID,
				UserID:   opts.userID,
				Language: lang.Locale,
			}, messages)
		},
		Logger:  logger,
		Metrics: result.Metrics,
	})
	if opts.conversationID != "" {
		conv, err := result.History.LoadConversation(ctx, conversationID)
		switch {
		case err == nil:
			msgs := make([]chat.Message, 0, len(conv.Records))
			for _, rec := range conv.Records {
				msgs = append(msgs, chat.FromRecord(rec))
			}
			practice.Restore(msgs)
		case errors.Is(err, history.ErrNotFound):
		default:
			return fmt.Errorf("load conversation: %w", err)
		}
	}

	fmt.Fprintf(out, "Practicing %s (conversation %s). Enter records, /stop interrupts, /quit exits.\n", lang.Name, conversationID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var tasks sync.WaitGroup
	background := func(fn func(context.Context) error) {
		tasks.Add(1)
		go func() {
			defer tasks.Done()
			if err := fn(ctx); errors.Is(err, voice.ErrInvalidState) {
				printer.notice("still busy, wait for the reply or type /stop")
			}
		}()
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			switch cmd := strings.TrimSpace(line); cmd {
			case "/quit":
				break loop
			case "/stop":
				background(practice.StopAudio)
			case "":
				if practice.Flags().Recording {
					background(practice.StopRecording)
					continue
				}
				if err := practice.StartRecording(ctx); errors.Is(err, voice.ErrInvalidState) {
					printer.notice("still busy, wait for the reply or type /stop")
				}
			default:
				background(func(ctx context.Context) error { return practice.SendText(ctx, cmd) })
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := practice.Close(closeCtx); err != nil {
		logger.Warn("closing practice", slog.String("error", err.Error()))
	}
	tasks.Wait()
	return nil
}

func saveLocalConversation(ctx context.Context, store history.Store, logger *slog.Logger, conv history.Conversation, messages []chat.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	conv.Records = make([]chat.Record, 0, len(messages))
	for _, m := range messages {
		conv.Records = append(conv.Records, m.Record())
	}
	if err := store.SaveConversation(ctx, conv); err != nil {
		logger.Warn("saving conversation", slog.String("conversation_id", conv.ID), slog.String("error", err.Error()))
	}
}

// transcriptPrinter writes each finished message once, plus recording
// prompts and failure notices.
type transcriptPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	printed   map[string]bool
	recording bool
}

func newTranscriptPrinter(out io.Writer) *transcriptPrinter {
	return &transcriptPrinter{out: out, printed: make(map[string]bool)}
}

func (p *transcriptPrinter) observe(state voice.PracticeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state.Flags.Recording != p.recording {
		p.recording = state.Flags.Recording
		if p.recording {
			fmt.Fprintln(p.out, "[recording, press Enter to send]")
		}
	}
	for _, m := range state.Messages {
		if m.Streaming || p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		who := "you"
		if m.FromAI {
			who = "partner"
		}
		fmt.Fprintf(p.out, "%s: %s\n", who, m.Text)
	}
	if state.Notice != "" {
		fmt.Fprintf(p.out, "! %s\n", state.Notice)
	}
}

func (p *transcriptPrinter) notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "! %s\n", text)
}

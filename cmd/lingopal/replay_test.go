package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/antoniostano/lingopal/internal/app"
	"github.com/antoniostano/lingopal/internal/config"
)

func TestWSURLForSession(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/v1/session/ws?sample_rate=24000&session_id=abc"},
		{base: "https://example.com/api/", want: "wss://example.com/api/v1/session/ws?sample_rate=24000&session_id=abc"},
		{base: "ftp://example.com", wantErr: true},
		{base: "http://", wantErr: true},
	}
	for _, tt := range tests {
		got, err := wsURLForSession(tt.base, "abc", 24000)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("wsURLForSession(%q) expected error, got %q", tt.base, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("wsURLForSession(%q) error = %v", tt.base, err)
		}
		if got != tt.want {
			t.Fatalf("wsURLForSession(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestChunkPCM(t *testing.T) {
	// 16kHz, 10ms chunks are 320 bytes; 1000 bytes leaves a 40 byte tail and
	// the odd trailing byte is dropped.
	chunks := chunkPCM(make([]byte, 1001), 16000, 10)
	if len(chunks) != 4 {
		t.Fatalf("chunk count = %d, want 4", len(chunks))
	}
	for i, c := range chunks[:3] {
		if len(c) != 320 {
			t.Fatalf("chunk %d len = %d, want 320", i, len(c))
		}
	}
	if len(chunks[3]) != 40 {
		t.Fatalf("tail len = %d, want 40", len(chunks[3]))
	}
	if got := chunkPCM(nil, 16000, 10); len(got) != 0 {
		t.Fatalf("empty input produced %d chunks", len(got))
	}
}

func TestPercentile(t *testing.T) {
	values := []time.Duration{5, 1, 4, 2, 3, 6, 7, 8, 9, 10}
	if got := percentile(values, 50); got != 5 {
		t.Fatalf("p50 = %d, want 5", got)
	}
	if got := percentile(values, 95); got != 10 {
		t.Fatalf("p95 = %d, want 10", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty p50 = %d, want 0", got)
	}
}

func TestSplitUtterances(t *testing.T) {
	got := splitUtterances(" one | |two ")
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("splitUtterances = %q", got)
	}
	if got := splitUtterances(""); len(got) != len(defaultUtterances) {
		t.Fatalf("default utterances = %d, want %d", len(got), len(defaultUtterances))
	}
}

func TestReplayOptionsValidate(t *testing.T) {
	opts := replayOptions{baseURL: " http://x/ ", turns: 1, chunkMS: 20, realtime: 1, texts: []string{"hi"}}
	if err := opts.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if opts.baseURL != "http://x" {
		t.Fatalf("baseURL = %q", opts.baseURL)
	}
	if opts.turnTimeout != time.Second {
		t.Fatalf("turnTimeout = %s, want 1s floor", opts.turnTimeout)
	}
	bad := opts
	bad.chunkMS = 5
	if err := bad.validate(); err == nil {
		t.Fatal("expected chunk-ms error")
	}
}

func TestReplayAgainstMockServer(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:         "test_replay",
		SessionInactivityTimeout: time.Minute,
		SpeechProvider:           "mock",
		LLMProvider:              "mock",
		SynthesisSampleRate:      24000,
		LLMHistoryWindow:         8,
		WorkletBuffer:            64,
		PlaybackAckGrace:         time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	result, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer result.Cleanup()
	srv := httptest.NewServer(result.API.Router())
	defer srv.Close()

	opts := replayOptions{
		baseURL:     srv.URL,
		userID:      "replay-test",
		locale:      "en",
		turns:       2,
		chunkMS:     20,
		realtime:    20,
		turnTimeout: 20 * time.Second,
		texts:       []string{"hello"},
		verbose:     true,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var progress bytes.Buffer
	report, err := runReplay(ctx, opts, &progress)
	if err != nil {
		t.Fatalf("runReplay() error = %v\n%s", err, progress.String())
	}
	if len(report.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(report.Turns))
	}
	for i, turn := range report.Turns {
		if turn.FirstAudio <= 0 || turn.Total < turn.FirstAudio {
			t.Fatalf("turn %d timing = %+v", i, turn)
		}
	}

	var out bytes.Buffer
	printReport(&out, report)
	if !strings.Contains(out.String(), "2 turns") {
		t.Fatalf("report = %q", out.String())
	}
}

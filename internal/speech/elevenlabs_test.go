package speech

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newElevenServer(t *testing.T, handle func(*websocket.Conn, *http.Request)) *ElevenLabs {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("xi-api-key = %q, want key", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return NewElevenLabs(ElevenLabsConfig{
		APIKey:    "key",
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
		VoiceID:   "voice",
		StopGrace: time.Second,
	})
}

func TestElevenLabsRecognitionFlow(t *testing.T) {
	e := newElevenServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.URL.Query().Get("language_code"); got != "en" {
			t.Errorf("language_code = %q, want en", got)
		}
		_ = conn.WriteJSON(map[string]any{"message_type": "session_started"})
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["commit"] == true {
				_ = conn.WriteJSON(map[string]any{"message_type": "committed_transcript", "text": "Hello"})
				_ = conn.WriteJSON(map[string]any{"message_type": "rate_limited", "error": "slow down"})
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := e.Open(ctx, RecognitionConfig{Locale: "en-US", SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rec.Close()
	if err := rec.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rec.Input().Write([]byte{0, 1, 0, 1}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	first := <-rec.Results()
	if first.Reason != RecognizedSpeech || first.Text != "Hello" {
		t.Fatalf("first result = %+v", first)
	}
	second := <-rec.Results()
	if second.Reason != Canceled || !second.Retryable || second.Detail != "slow down" {
		t.Fatalf("second result = %+v", second)
	}
}

func TestElevenLabsStartRejectedWhenSocketCloses(t *testing.T) {
	e := newElevenServer(t, func(conn *websocket.Conn, _ *http.Request) {})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := e.Open(ctx, RecognitionConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rec.Close()
	if err := rec.Start(ctx); err == nil {
		t.Fatalf("Start() error = nil, want rejection")
	}
}

func TestElevenLabsSynthesizeCollectsAudio(t *testing.T) {
	e := newElevenServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.URL.Query().Get("output_format"); got != "pcm_24000" {
			t.Errorf("output_format = %q, want pcm_24000", got)
		}
		var texts []string
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			text, _ := msg["text"].(string)
			texts = append(texts, text)
			if text == "" {
				break
			}
		}
		if len(texts) != 3 || texts[1] != "Hola amigo " {
			t.Errorf("texts = %q", texts)
		}
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte{1, 2})})
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte{3, 4})})
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	})

	ch, err := e.Synthesizer().Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	pcm, err := ch.Synthesize(context.Background(), SynthesisRequest{Text: " Hola amigo", Locale: "es-ES"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(pcm) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("pcm = %v, want [1 2 3 4]", pcm)
	}
}

func TestLanguageCode(t *testing.T) {
	if got := languageCode("zh-TW"); got != "zh" {
		t.Fatalf("languageCode() = %q, want zh", got)
	}
	if got := languageCode(""); got != "" {
		t.Fatalf("languageCode(\"\") = %q, want empty", got)
	}
}

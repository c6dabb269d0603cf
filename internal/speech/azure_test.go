package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func staticCreds(token string) *CredentialCache {
	return NewCredentialCache(func(context.Context) (Credential, error) {
		return Credential{Token: token, Region: "eastus"}, nil
	}, nil)
}

func TestAzureSynthesizerSendsSSML(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Microsoft-OutputFormat"); got != AzureOutputFormat {
			t.Errorf("output format = %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte{1, 0, 2, 0})
	}))
	defer srv.Close()

	syn := NewAzureSynthesizer(AzureConfig{Region: "eastus", SynthesisURL: srv.URL, HTTPClient: srv.Client()}, staticCreds("tok"))
	ch, err := syn.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	pcm, err := ch.Synthesize(context.Background(), SynthesisRequest{Text: "Hi & bye", Locale: "en-US", Voice: "en-US-GuyNeural"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("len(pcm) = %d, want 4", len(pcm))
	}
	if !strings.Contains(gotBody, `<voice name="en-US-GuyNeural">`) || !strings.Contains(gotBody, "Hi &amp; bye") {
		t.Fatalf("body = %s", gotBody)
	}

	_ = ch.Close()
	if _, err := ch.Synthesize(context.Background(), SynthesisRequest{Text: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Synthesize() after Close error = %v, want ErrClosed", err)
	}
}

func TestAzureSynthesizerOpenFailsOnCredential(t *testing.T) {
	boom := errors.New("bad key")
	creds := NewCredentialCache(func(context.Context) (Credential, error) { return Credential{}, boom }, nil)
	syn := NewAzureSynthesizer(AzureConfig{Region: "eastus"}, creds)
	if _, err := syn.Open(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Open() error = %v, want bad key", err)
	}
}

func TestAzureSynthesizerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	syn := NewAzureSynthesizer(AzureConfig{SynthesisURL: srv.URL, HTTPClient: srv.Client()}, staticCreds("t"))
	ch, _ := syn.Open(context.Background())
	_, err := ch.Synthesize(context.Background(), SynthesisRequest{Text: "hello"})
	if !IsRetryable(err) {
		t.Fatalf("Synthesize() error = %v, want retryable status error", err)
	}
}

func TestBuildSSML(t *testing.T) {
	got := BuildSSML(SynthesisRequest{Text: " a<b ", Locale: "ja-JP", Voice: "ja-JP-NanamiNeural", Rate: 0.9})
	for _, want := range []string{`xml:lang="ja-JP"`, `style="chat"`, `rate="-10%"`, "a&lt;b</prosody>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("BuildSSML() = %s, missing %s", got, want)
		}
	}
}

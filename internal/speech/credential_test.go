package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestCredentialCacheReusesUntilExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	calls := 0
	cache := NewCredentialCache(func(context.Context) (Credential, error) {
		calls++
		return Credential{Token: "tok", Region: "eastus"}, nil
	}, clock.Now)

	ctx := context.Background()
	if _, err := cache.RefreshIfExpired(ctx); err != nil {
		t.Fatalf("RefreshIfExpired() error = %v", err)
	}
	clock.now = clock.now.Add(CredentialValidity - time.Second)
	if _, err := cache.RefreshIfExpired(ctx); err != nil {
		t.Fatalf("RefreshIfExpired() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("fetch calls = %d, want 1 before expiry", calls)
	}

	clock.now = clock.now.Add(2 * time.Second)
	cred, err := cache.RefreshIfExpired(ctx)
	if err != nil {
		t.Fatalf("RefreshIfExpired() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("fetch calls = %d, want 2 after expiry", calls)
	}
	if !cred.FetchedAt.Equal(clock.now) {
		t.Fatalf("FetchedAt = %v, want %v", cred.FetchedAt, clock.now)
	}
}

func TestCredentialCacheFailureKeepsNothingCached(t *testing.T) {
	boom := errors.New("boom")
	fail := true
	cache := NewCredentialCache(func(context.Context) (Credential, error) {
		if fail {
			return Credential{}, boom
		}
		return Credential{Token: "ok"}, nil
	}, nil)

	if _, err := cache.RefreshIfExpired(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RefreshIfExpired() error = %v, want boom", err)
	}
	fail = false
	cred, err := cache.RefreshIfExpired(context.Background())
	if err != nil || cred.Token != "ok" {
		t.Fatalf("RefreshIfExpired() = %+v, %v", cred, err)
	}
}

func TestCredentialCacheInvalidate(t *testing.T) {
	calls := 0
	cache := NewCredentialCache(func(context.Context) (Credential, error) {
		calls++
		return Credential{Token: "t"}, nil
	}, nil)
	_, _ = cache.RefreshIfExpired(context.Background())
	cache.Invalidate()
	_, _ = cache.RefreshIfExpired(context.Background())
	if calls != 2 {
		t.Fatalf("fetch calls = %d, want 2", calls)
	}
}

func TestAzureTokenFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Ocp-Apim-Subscription-Key"); got != "secret" {
			t.Errorf("subscription key = %q, want secret", got)
		}
		_, _ = w.Write([]byte("issued-token\n"))
	}))
	defer srv.Close()

	cred, err := AzureTokenFetcher(srv.Client(), srv.URL, "secret", "westus")(context.Background())
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	if cred.Token != "issued-token" || cred.Region != "westus" {
		t.Fatalf("cred = %+v", cred)
	}
}

func TestAzureTokenFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := AzureTokenFetcher(srv.Client(), srv.URL, "k", "r")(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("error = %v, want StatusError 503", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("IsRetryable() = false, want true for 503")
	}
}

func TestAzureTokenURL(t *testing.T) {
	want := "https://eastus.api.cognitive.microsoft.com/sts/v1.0/issueToken"
	if got := AzureTokenURL("eastus"); got != want {
		t.Fatalf("AzureTokenURL() = %q, want %q", got, want)
	}
}

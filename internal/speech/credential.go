package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CredentialValidity is how long a fetched token is reused. Azure issues
// tokens valid for ten minutes.
const CredentialValidity = 9 * time.Minute

// Credential is a short-lived service token.
type Credential struct {
	Token     string    `json:"token"`
	Region    string    `json:"region"`
	FetchedAt time.Time `json:"-"`
}

type FetchFunc func(ctx context.Context) (Credential, error)

// CredentialCache shares one token between all channels and refreshes it
// once it is older than CredentialValidity.
type CredentialCache struct {
	fetch FetchFunc
	now   func() time.Time

	mu      sync.Mutex
	current Credential
	valid   bool
}

// NewCredentialCache creates a cache. now defaults to time.Now.
func NewCredentialCache(fetch FetchFunc, now func() time.Time) *CredentialCache {
	if now == nil {
		now = time.Now
	}
	return &CredentialCache{fetch: fetch, now: now}
}

// RefreshIfExpired returns the cached credential, fetching a new one when
// none is cached or the cached one has expired. A failed fetch keeps the
// previous state.
func (c *CredentialCache) RefreshIfExpired(ctx context.Context) (Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Before(c.current.FetchedAt.Add(CredentialValidity)) {
		return c.current, nil
	}
	cred, err := c.fetch(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("refresh speech credential: %w", err)
	}
	cred.FetchedAt = c.now()
	c.current = cred
	c.valid = true
	return cred, nil
}

// Invalidate forces the next call to fetch.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// AzureTokenURL returns the issueToken endpoint for a region.
func AzureTokenURL(region string) string {
	return "https://" + region + ".api.cognitive.microsoft.com/sts/v1.0/issueToken"
}

// AzureTokenFetcher exchanges a subscription key for an access token.
func AzureTokenFetcher(client *http.Client, tokenURL, key, region string) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (Credential, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, nil)
		if err != nil {
			return Credential{}, err
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", key)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			return Credential{}, fmt.Errorf("azure token request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return Credential{}, fmt.Errorf("read azure token: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return Credential{}, &StatusError{Provider: "azure", Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		token := strings.TrimSpace(string(body))
		if token == "" {
			return Credential{}, fmt.Errorf("azure token response was empty")
		}
		return Credential{Token: token, Region: region}, nil
	}
}

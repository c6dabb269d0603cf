package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/lingopal/internal/policy"
)

// NewStore picks a backend from url: empty for in-memory, postgres:// or
// postgresql:// for PostgreSQL, sqlite:<path> for SQLite. Learner PII is
// redacted before anything is written.
func NewStore(ctx context.Context, url string) (Store, error) {
	url = strings.TrimSpace(url)
	var (
		store Store
		err   error
	)
	switch {
	case url == "":
		store = NewInMemoryStore()
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		store, err = NewPostgresStore(ctx, url)
	case strings.HasPrefix(url, "sqlite:"):
		store, err = NewSQLiteStore(ctx, strings.TrimPrefix(url, "sqlite:"))
	default:
		return nil, fmt.Errorf("unsupported history url %q", url)
	}
	if err != nil {
		return nil, err
	}
	return WithRedaction(store), nil
}

type redactingStore struct {
	Store
}

// WithRedaction masks PII in learner records on save.
func WithRedaction(s Store) Store {
	if _, ok := s.(redactingStore); ok {
		return s
	}
	return redactingStore{Store: s}
}

func (s redactingStore) SaveConversation(ctx context.Context, conv Conversation) error {
	var changed int
	conv.Records, changed = policy.RedactConversation(conv.Records)
	conv.PIIRedacted = conv.PIIRedacted || changed > 0
	return s.Store.SaveConversation(ctx, conv)
}

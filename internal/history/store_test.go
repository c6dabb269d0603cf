package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/antoniostano/lingopal/internal/chat"
)

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	sqlite, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStoreSaveAndLoad(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			conv := Conversation{
				ID:       "c1",
				UserID:   "u1",
				Language: "es",
				Records: []chat.Record{
					{ID: "m1", Text: "Hola", IsAI: false},
					{ID: "m2", Text: "¡Hola! § ¿Qué tal?", IsAI: true},
				},
			}
			if err := store.SaveConversation(ctx, conv); err != nil {
				t.Fatalf("SaveConversation() error = %v", err)
			}

			got, err := store.LoadConversation(ctx, "c1")
			if err != nil {
				t.Fatalf("LoadConversation() error = %v", err)
			}
			if got.UserID != "u1" || got.Language != "es" || got.UpdatedAt.IsZero() {
				t.Fatalf("conversation = %+v", got)
			}
			if len(got.Records) != 2 || got.Records[1] != conv.Records[1] {
				t.Fatalf("records = %+v", got.Records)
			}

			conv.Records = conv.Records[:1]
			if err := store.SaveConversation(ctx, conv); err != nil {
				t.Fatalf("second SaveConversation() error = %v", err)
			}
			got, err = store.LoadConversation(ctx, "c1")
			if err != nil {
				t.Fatalf("LoadConversation() error = %v", err)
			}
			if len(got.Records) != 1 {
				t.Fatalf("save should replace records, got %d", len(got.Records))
			}

			if _, err := store.LoadConversation(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing conversation error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreRecentConversations(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			for i, id := range []string{"old", "mid", "new"} {
				err := store.SaveConversation(ctx, Conversation{
					ID:        id,
					UserID:    "u1",
					Language:  "en",
					Records:   []chat.Record{{ID: id, Text: id}},
					UpdatedAt: base.Add(time.Duration(i) * time.Hour),
				})
				if err != nil {
					t.Fatalf("SaveConversation(%s) error = %v", id, err)
				}
			}
			if err := store.SaveConversation(ctx, Conversation{ID: "other", UserID: "u2", Language: "en"}); err != nil {
				t.Fatalf("SaveConversation(other) error = %v", err)
			}

			got, err := store.RecentConversations(ctx, "u1", 2)
			if err != nil {
				t.Fatalf("RecentConversations() error = %v", err)
			}
			if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
				t.Fatalf("recent = %+v", got)
			}
			if len(got[0].Records) != 0 {
				t.Fatalf("listing should not carry records")
			}
		})
	}
}

func TestNewStoreRedactsLearnerPII(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, "sqlite:"+filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()

	err = store.SaveConversation(ctx, Conversation{
		ID:       "c",
		UserID:   "u",
		Language: "en",
		Records: []chat.Record{
			{ID: "1", Text: "reach me at sam@example.com"},
			{ID: "2", Text: "Sure, sam@example.com it is.", IsAI: true},
		},
	})
	if err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	got, err := store.LoadConversation(ctx, "c")
	if err != nil {
		t.Fatalf("LoadConversation() error = %v", err)
	}
	if got.Records[0].Text != "reach me at [REDACTED_EMAIL]" {
		t.Fatalf("learner text = %q", got.Records[0].Text)
	}
	if got.Records[1].Text != "Sure, sam@example.com it is." {
		t.Fatalf("partner text changed: %q", got.Records[1].Text)
	}
	if !got.PIIRedacted {
		t.Fatalf("PIIRedacted = false, want true")
	}
}

func TestNewStoreSelection(t *testing.T) {
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore(\"\") error = %v", err)
	}
	if _, ok := store.(redactingStore).Store.(*InMemoryStore); !ok {
		t.Fatalf("empty url should use the in-memory store")
	}
	if _, err := NewStore(context.Background(), "mysql://nope"); err == nil {
		t.Fatalf("unsupported url should fail")
	}
}

package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/lingopal/internal/chat"
)

// InMemoryStore keeps conversations in process for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]Conversation)}
}

func (s *InMemoryStore) SaveConversation(_ context.Context, conv Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}
	conv.Records = append([]chat.Record(nil), conv.Records...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

func (s *InMemoryStore) LoadConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	conv.Records = append([]chat.Record(nil), conv.Records...)
	return conv, nil
}

func (s *InMemoryStore) RecentConversations(_ context.Context, userID string, limit int) ([]Conversation, error) {
	s.mu.RLock()
	out := make([]Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID != userID {
			continue
		}
		conv.Records = nil
		out = append(out, conv)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

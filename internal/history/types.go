package history

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/lingopal/internal/chat"
)

var ErrNotFound = errors.New("conversation not found")

// Conversation is one practice session as persisted between visits.
type Conversation struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Language    string        `json:"language"`
	Records     []chat.Record `json:"records"`
	PIIRedacted bool          `json:"pii_redacted"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Store persists conversations. SaveConversation replaces the stored records.
type Store interface {
	SaveConversation(ctx context.Context, conv Conversation) error
	LoadConversation(ctx context.Context, id string) (Conversation, error)
	// RecentConversations lists a user's conversations, newest first,
	// without their records.
	RecentConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)
	Close() error
}

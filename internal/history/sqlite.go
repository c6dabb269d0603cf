package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/antoniostano/lingopal/internal/chat"
)

// sqliteTimeLayout has fixed width so timestamps sort as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists conversations in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    language TEXT NOT NULL,
    pii_redacted INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_records (
    conversation_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    message_id TEXT NOT NULL,
    text TEXT NOT NULL,
    is_ai INTEGER NOT NULL,
    PRIMARY KEY (conversation_id, seq),
    FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations(user_id, updated_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveConversation(ctx context.Context, conv Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations(id, user_id, language, pii_redacted, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, language=excluded.language,
		 pii_redacted=excluded.pii_redacted, updated_at=excluded.updated_at`,
		conv.ID, conv.UserID, conv.Language, conv.PIIRedacted, conv.UpdatedAt.UTC().Format(sqliteTimeLayout),
	); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_records WHERE conversation_id=?`, conv.ID); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	for i, r := range conv.Records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_records(conversation_id, seq, message_id, text, is_ai) VALUES(?, ?, ?, ?, ?)`,
			conv.ID, i, r.ID, r.Text, r.IsAI,
		); err != nil {
			return fmt.Errorf("save record %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadConversation(ctx context.Context, id string) (Conversation, error) {
	var (
		conv    Conversation
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, language, pii_redacted, updated_at FROM conversations WHERE id=?`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Language, &conv.PIIRedacted, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	conv.UpdatedAt = parseTimestamp(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, text, is_ai FROM conversation_records WHERE conversation_id=? ORDER BY seq`, id,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r chat.Record
		if err := rows.Scan(&r.ID, &r.Text, &r.IsAI); err != nil {
			return Conversation{}, fmt.Errorf("scan record: %w", err)
		}
		conv.Records = append(conv.Records, r)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, fmt.Errorf("iterate records: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) RecentConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, language, pii_redacted, updated_at
		 FROM conversations WHERE user_id=? ORDER BY updated_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, limit)
	for rows.Next() {
		var (
			c       Conversation
			updated string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Language, &c.PIIRedacted, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		c.UpdatedAt = parseTimestamp(updated)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func parseTimestamp(v string) time.Time {
	ts, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

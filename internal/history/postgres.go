package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/lingopal/internal/chat"
)

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			language TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_records (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			text TEXT NOT NULL,
			is_ai BOOLEAN NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveConversation(ctx context.Context, conv Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, user_id, language, pii_redacted, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET user_id=excluded.user_id, language=excluded.language,
			 pii_redacted=excluded.pii_redacted, updated_at=excluded.updated_at`,
			conv.ID, conv.UserID, conv.Language, conv.PIIRedacted, conv.UpdatedAt,
		); err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM conversation_records WHERE conversation_id=$1`, conv.ID); err != nil {
			return fmt.Errorf("clear records: %w", err)
		}

		batch := &pgx.Batch{}
		for i, r := range conv.Records {
			batch.Queue(
				`INSERT INTO conversation_records (conversation_id, seq, message_id, text, is_ai)
				 VALUES ($1, $2, $3, $4, $5)`,
				conv.ID, i, r.ID, r.Text, r.IsAI,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save records: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) LoadConversation(ctx context.Context, id string) (Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, language, pii_redacted, updated_at FROM conversations WHERE id=$1`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.Language, &conv.PIIRedacted, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT message_id, text, is_ai FROM conversation_records WHERE conversation_id=$1 ORDER BY seq`, id,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("query records: %w", err)
	}
	conv.Records, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Record, error) {
		var r chat.Record
		err := row.Scan(&r.ID, &r.Text, &r.IsAI)
		return r, err
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("scan records: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) RecentConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, language, pii_redacted, updated_at
		 FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, limit)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Language, &c.PIIRedacted, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

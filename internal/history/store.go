// Package history persists conversation transcripts in a local SQLite
// database. Message bodies are sealed with the daemon secret key before they
// touch disk; ids, sequence numbers and timestamps stay in the clear for
// indexing.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/banterhq/banter/internal/crypto"
	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/types"
)

// Store is the transcript persistence surface consumed by the router.
type Store interface {
	CreateConversation(ctx context.Context, conversationID string) error
	AppendMessage(ctx context.Context, conversationID string, msg *wire.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]wire.Message, error)
	ListConversations(ctx context.Context) ([]wire.SessionSummary, error)
	DeleteConversation(ctx context.Context, conversationID string) (bool, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id          TEXT PRIMARY KEY,
	seq         INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	content         TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	UNIQUE (conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, seq);
`

// SQLStore implements Store on a local SQLite file.
type SQLStore struct {
	db     *sql.DB
	secret *[32]byte
}

// Open opens (creating if needed) the history database at path.
func Open(path string, secret *[32]byte) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &SQLStore{db: db, secret: secret}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateConversation registers a conversation id. Existing ids are left
// untouched so resumed conversations keep their transcript.
func (s *SQLStore) CreateConversation(ctx context.Context, conversationID string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, seq, created_at, updated_at)
		 VALUES (?, 0, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		conversationID, now, now)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// AppendMessage seals and stores one message at the next sequence number.
func (s *SQLStore) AppendMessage(ctx context.Context, conversationID string, msg *wire.Message) error {
	cipher, err := crypto.SealString(msg, s.secret)
	if err != nil {
		return fmt.Errorf("failed to seal message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE conversations SET seq = seq + 1, updated_at = ? WHERE id = ?
		 RETURNING seq`,
		now, conversationID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unknown conversation %q", conversationID)
	}
	if err != nil {
		return fmt.Errorf("failed to advance seq: %w", err)
	}

	id := msg.ID
	if id == "" {
		id = types.NewCUID()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, conversationID, seq, cipher, now)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return tx.Commit()
}

// ListMessages returns the decrypted transcript in sequence order.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID string) ([]wire.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []wire.Message
	for rows.Next() {
		var cipher string
		if err := rows.Scan(&cipher); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var msg wire.Message
		if err := crypto.OpenString(cipher, s.secret, &msg); err != nil {
			return nil, fmt.Errorf("failed to open message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ListConversations returns all known conversations, most recently updated
// first.
func (s *SQLStore) ListConversations(ctx context.Context) ([]wire.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, created_at, updated_at FROM conversations
		 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []wire.SessionSummary
	for rows.Next() {
		var summary wire.SessionSummary
		if err := rows.Scan(&summary.ConversationID, &summary.MessageCount,
			&summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its messages, reporting
// whether anything was deleted. Unknown ids are a no-op.
func (s *SQLStore) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

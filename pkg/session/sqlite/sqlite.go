// Package sqlite provides a SQLite session.Backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/scout/pkg/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS scout_sessions (
	session_id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Backend stores session bindings in a SQLite database.
type Backend struct {
	db *sql.DB
}

var _ session.Backend = (*Backend)(nil)

// NewBackend opens dbPath (a file path or ":memory:") and creates the
// sessions table.
func NewBackend(dbPath string) (*Backend, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Backend{db: db}, nil
}

func (b *Backend) Load(ctx context.Context, sessionID string) (string, error) {
	var conversationID string
	err := b.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM scout_sessions WHERE session_id = ?`, sessionID,
	).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return conversationID, nil
}

func (b *Backend) Save(ctx context.Context, sessionID, conversationID string) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO scout_sessions(session_id, conversation_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			updated_at = excluded.updated_at
	`, sessionID, conversationID)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sessionID, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

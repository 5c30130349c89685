package hvconnector

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sentSchema = `
CREATE TABLE IF NOT EXISTS sent_sessions (
    session_id TEXT PRIMARY KEY,
    sent_at    TIMESTAMP NOT NULL
);`

// SentStore records which upstream sessions were already forwarded, so the
// connector stays idempotent across restarts.
type SentStore struct {
	db *sql.DB
}

// OpenSentStore creates or opens the SQLite tracking database.
func OpenSentStore(path string) (*SentStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sent database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sent database: %w", err)
	}

	// SQLite supports one writer; keep a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SentStore{db: db}, nil
}

func (s *SentStore) Close() error {
	return s.db.Close()
}

// AlreadySent reports whether a session id was forwarded before.
func (s *SentStore) AlreadySent(sessionID string) (bool, error) {
	var found string
	err := s.db.QueryRow(
		"SELECT session_id FROM sent_sessions WHERE session_id = ?", sessionID,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSent records a forwarded session id. Re-marking is a no-op.
func (s *SentStore) MarkSent(sessionID string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO sent_sessions (session_id, sent_at) VALUES (?, ?)",
		sessionID, time.Now().UTC(),
	)
	return err
}

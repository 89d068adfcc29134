package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/loopera/chatrelay/internal/api/middleware"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id    TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

// SQLiteStore persists sessions in a local SQLite database. It is the default
// backend for single-node deployments.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteStore opens (and if needed creates) the SQLite database at path.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent pipeline runs.
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, opts: opts}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, userID string) *Session {
	var record string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT record, expires_at FROM sessions WHERE user_id = ?`, userID,
	).Scan(&record, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return NewSession()
	case err != nil:
		log.WithError(err).WithField("user", userID).Warn("session read failed, degrading to empty session")
		middleware.RecordSessionStoreDegraded("get")
		return NewSession()
	}
	if time.Now().UnixMilli() >= expiresAt {
		// Expired record; lazily removed, reads behave as if absent.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
		return NewSession()
	}
	sess, err := decodeRecord([]byte(record))
	if err != nil {
		log.WithError(err).WithField("user", userID).Warn("corrupt session record, starting fresh")
		return NewSession()
	}
	return sess
}

// Update implements Store. Concurrent updates for the same user are
// last-write-wins; there is no per-user mutual exclusion.
func (s *SQLiteStore) Update(ctx context.Context, userID, userMessage, botResponse string, metadata map[string]any) {
	sess := s.Get(ctx, userID)
	sess.AppendExchange(userMessage, botResponse, s.opts.maxHistory())
	sess.MergeMetadata(metadata)

	record, err := encodeRecord(sess)
	if err != nil {
		log.WithError(err).WithField("user", userID).Warn("session encode failed, skipping write")
		return
	}
	expiresAt := time.Now().Add(s.opts.ttl()).UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, record, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET record = excluded.record, expires_at = excluded.expires_at`,
		userID, string(record), expiresAt)
	if err != nil {
		log.WithError(err).WithField("user", userID).Warn("session write failed, continuing stateless")
		middleware.RecordSessionStoreDegraded("update")
		return
	}
	s.purgeExpired(ctx)
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("session: clear %s: %w", userID, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// purgeExpired removes expired rows opportunistically after writes.
func (s *SQLiteStore) purgeExpired(ctx context.Context) {
	_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().UnixMilli())
}

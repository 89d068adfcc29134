package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/loopera/chatrelay/internal/api/middleware"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id    TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists sessions in PostgreSQL, for deployments where
// multiple relay instances share one session backend.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresStore connects to the database at url and ensures the sessions
// table exists.
func NewPostgresStore(ctx context.Context, url string, opts Options) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("session: connect postgres: %w", err)
	}
	if _, err = pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: init postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool, opts: opts}, nil
}

// Get implements Store.
func (p *PostgresStore) Get(ctx context.Context, userID string) *Session {
	var record []byte
	var expiresAt time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT record, expires_at FROM sessions WHERE user_id = $1`, userID,
	).Scan(&record, &expiresAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return NewSession()
	case err != nil:
		log.WithError(err).WithField("user", userID).Warn("session read failed, degrading to empty session")
		middleware.RecordSessionStoreDegraded("get")
		return NewSession()
	}
	if time.Now().After(expiresAt) {
		_, _ = p.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
		return NewSession()
	}
	sess, err := decodeRecord(record)
	if err != nil {
		log.WithError(err).WithField("user", userID).Warn("corrupt session record, starting fresh")
		return NewSession()
	}
	return sess
}

// Update implements Store. Last-write-wins under concurrent updates.
func (p *PostgresStore) Update(ctx context.Context, userID, userMessage, botResponse string, metadata map[string]any) {
	sess := p.Get(ctx, userID)
	sess.AppendExchange(userMessage, botResponse, p.opts.maxHistory())
	sess.MergeMetadata(metadata)

	record, err := encodeRecord(sess)
	if err != nil {
		log.WithError(err).WithField("user", userID).Warn("session encode failed, skipping write")
		return
	}
	expiresAt := time.Now().Add(p.opts.ttl())
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sessions (user_id, record, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at`,
		userID, record, expiresAt)
	if err != nil {
		log.WithError(err).WithField("user", userID).Warn("session write failed, continuing stateless")
		middleware.RecordSessionStoreDegraded("update")
		return
	}
	_, _ = p.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
}

// Clear implements Store.
func (p *PostgresStore) Clear(ctx context.Context, userID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("session: clear %s: %w", userID, err)
	}
	return nil
}

// Close implements Store.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

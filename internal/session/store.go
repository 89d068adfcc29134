package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store defines how sessions are persisted and retrieved.
//
// Get and Update never surface backend errors: an unreachable backend
// degrades to an empty session on read and a silent no-op on write. Clear
// reports its error because it backs an administrative surface.
type Store interface {
	// Get returns the persisted session for userID, or a fresh empty session
	// if none exists, the record expired, or the backend is unavailable.
	// The returned session is always non-nil and owned by the caller.
	Get(ctx context.Context, userID string) *Session

	// Update appends one user/assistant exchange, trims history, merges
	// metadata and persists with the TTL reset. No-op when the backend is
	// unavailable.
	Update(ctx context.Context, userID, userMessage, botResponse string, metadata map[string]any)

	// Clear deletes the session record. Absent records are not an error.
	Clear(ctx context.Context, userID string) error

	// Close releases the underlying backend connection.
	Close() error
}

// Options configure a store's retention behavior.
type Options struct {
	// TTL is the session time-to-live, reset on every write. <= 0 means DefaultTTL.
	TTL time.Duration

	// MaxHistory bounds retained history turns. <= 0 means DefaultMaxHistory.
	MaxHistory int
}

func (o Options) ttl() time.Duration {
	if o.TTL <= 0 {
		return DefaultTTL
	}
	return o.TTL
}

func (o Options) maxHistory() int {
	if o.MaxHistory <= 0 {
		return DefaultMaxHistory
	}
	return o.MaxHistory
}

// OpenStore opens the session store selected by storeURL. postgres:// and
// postgresql:// URLs open a PostgreSQL-backed store, an empty URL opens an
// in-memory store, and anything else is treated as a SQLite database path.
func OpenStore(ctx context.Context, storeURL string, opts Options) (Store, error) {
	switch {
	case storeURL == "":
		return NewMemoryStore(opts), nil
	case strings.HasPrefix(storeURL, "postgres://"), strings.HasPrefix(storeURL, "postgresql://"):
		return NewPostgresStore(ctx, storeURL, opts)
	default:
		return NewSQLiteStore(storeURL, opts)
	}
}

// encodeRecord serializes a session into its persisted JSON form.
func encodeRecord(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: encode record: %w", err)
	}
	return data, nil
}

// decodeRecord parses a persisted record, tolerating missing fields.
func decodeRecord(data []byte) (*Session, error) {
	s := NewSession()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("session: decode record: %w", err)
	}
	if s.History == nil {
		s.History = []Turn{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return s, nil
}

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used when no store URL is configured
// and in tests. Entries expire on read once their deadline passes.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	opts    Options
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		opts:    opts,
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[userID]
	if !ok {
		return NewSession()
	}
	if time.Now().After(entry.expiresAt) {
		delete(m.entries, userID)
		return NewSession()
	}
	return entry.session.clone()
}

// Update implements Store.
func (m *MemoryStore) Update(ctx context.Context, userID, userMessage, botResponse string, metadata map[string]any) {
	sess := m.Get(ctx, userID)
	sess.AppendExchange(userMessage, botResponse, m.opts.maxHistory())
	sess.MergeMetadata(metadata)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = &memoryEntry{
		session:   sess.clone(),
		expiresAt: time.Now().Add(m.opts.ttl()),
	}
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

// Package session provides per-user conversation state with TTL semantics.
// A session holds a bounded rolling history of user/assistant turns plus
// free-form metadata. Stores degrade gracefully when their backend is
// unavailable: reads return an empty session and writes become no-ops, so the
// message pipeline keeps functioning in a conversationally stateless mode.
package session

import "time"

// Turn roles within a session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxHistory bounds retained history to 10 exchanges.
const DefaultMaxHistory = 20

// DefaultTTL is how long a session survives without a refreshing write.
const DefaultTTL = 24 * time.Hour

// Turn is one role-tagged message within a session's history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is the persisted conversation state for one user.
type Session struct {
	// History is the ordered sequence of turns, newest last, capped to the
	// most recent MaxHistory entries.
	History []Turn `json:"history"`

	// Metadata holds scalar annotations merged (not replaced) on update.
	Metadata map[string]any `json:"metadata"`

	// CreatedAt is set on first write and immutable afterwards.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is refreshed on every write.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns a fresh empty session.
func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{
		History:   []Turn{},
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendExchange appends a user turn followed by an assistant turn, trims the
// history to the most recent maxHistory entries and refreshes UpdatedAt.
func (s *Session) AppendExchange(userMessage, botResponse string, maxHistory int) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	s.History = append(s.History,
		Turn{Role: RoleUser, Content: userMessage},
		Turn{Role: RoleAssistant, Content: botResponse},
	)
	if len(s.History) > maxHistory {
		trimmed := make([]Turn, maxHistory)
		copy(trimmed, s.History[len(s.History)-maxHistory:])
		s.History = trimmed
	}
	s.UpdatedAt = time.Now().UTC()
}

// MergeMetadata merges the given keys into the session metadata. New keys
// overwrite existing ones; unrelated keys are untouched.
func (s *Session) MergeMetadata(metadata map[string]any) {
	if len(metadata) == 0 {
		return
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		s.Metadata[k] = v
	}
}

// clone returns an independent copy so callers never share backing arrays or
// maps with the store.
func (s *Session) clone() *Session {
	out := &Session{
		History:   make([]Turn, len(s.History)),
		Metadata:  make(map[string]any, len(s.Metadata)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	copy(out.History, s.History)
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return out
}

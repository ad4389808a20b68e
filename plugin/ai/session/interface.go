// Package session provides per-user turn history and last-known mindstate.
// Stores are constructor-injected; the pipeline never reaches for a global.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// ErrEmptyUserID is returned when an operation is called without a user.
var ErrEmptyUserID = errors.New("session: user id is required")

// Store defines session persistence.
type Store interface {
	// Get returns a snapshot of the user's session, or false if none exists.
	Get(ctx context.Context, userID string) (*Session, bool, error)

	// GetOrCreate returns the user's session, creating an empty one if needed.
	GetOrCreate(ctx context.Context, userID string) (*Session, error)

	// Append adds a completed turn and records its mindstate as the latest.
	Append(ctx context.Context, userID string, turn mindstate.Turn) error

	// Clear discards the session and all of its turns.
	Clear(ctx context.Context, userID string) error
}

// Expirer is implemented by stores that can drop idle sessions.
type Expirer interface {
	CleanupExpired(ctx context.Context, idle time.Duration) (int64, error)
}

// Session is a user's ordered turn history.
type Session struct {
	UserID        string               `json:"user_id"`
	Turns         []mindstate.Turn     `json:"turns"`
	LastMindstate *mindstate.Mindstate `json:"last_mindstate,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// TurnCount returns the number of committed turns.
func (s *Session) TurnCount() int {
	if s == nil {
		return 0
	}
	return len(s.Turns)
}

// clone returns a deep copy that shares no memory with the stored session.
func (s *Session) clone() *Session {
	c := *s
	c.Turns = make([]mindstate.Turn, len(s.Turns))
	for i, turn := range s.Turns {
		c.Turns[i] = turn.Clone()
	}
	c.LastMindstate = s.LastMindstate.Clone()
	return &c
}

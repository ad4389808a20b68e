package session

import (
	"context"
	"sync"
	"time"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// MemoryStore keeps sessions in a process-local map.
// Thread-safe for concurrent access.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Get returns a snapshot of the user's session.
func (m *MemoryStore) Get(ctx context.Context, userID string) (*Session, bool, error) {
	if userID == "" {
		return nil, false, ErrEmptyUserID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, false, nil
	}
	return s.clone(), true, nil
}

// GetOrCreate returns the user's session, creating it lazily.
func (m *MemoryStore) GetOrCreate(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		now := m.now()
		s = &Session{UserID: userID, Turns: []mindstate.Turn{}, CreatedAt: now, UpdatedAt: now}
		m.sessions[userID] = s
	}
	return s.clone(), nil
}

// Append adds a completed turn to the user's session.
func (m *MemoryStore) Append(ctx context.Context, userID string, turn mindstate.Turn) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s, ok := m.sessions[userID]
	if !ok {
		s = &Session{UserID: userID, CreatedAt: now}
		m.sessions[userID] = s
	}
	turn = turn.Clone()
	s.Turns = append(s.Turns, turn)
	s.LastMindstate = turn.Mindstate.Clone()
	s.UpdatedAt = now
	return nil
}

// Clear removes the user's session.
func (m *MemoryStore) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// CleanupExpired drops sessions untouched for longer than idle.
func (m *MemoryStore) CleanupExpired(ctx context.Context, idle time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	var deleted int64
	for userID, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, userID)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the number of live sessions.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Expirer = (*MemoryStore)(nil)
)

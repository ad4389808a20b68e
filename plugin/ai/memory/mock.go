package memory

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockClient is an in-memory Client for tests and offline runs.
// Search matches stored facts by case-insensitive word overlap with the query.
type MockClient struct {
	mu     sync.Mutex
	facts  map[string][]Fact
	stored []StoredExchange

	// SearchErr and StoreErr, when set, are returned by the matching call.
	SearchErr error
	StoreErr  error
	// StoreDelay holds every Store call for the given duration.
	StoreDelay time.Duration

	searches int
}

// StoredExchange records one Store call on a MockClient.
type StoredExchange struct {
	UserID      string
	UserMessage string
	Response    string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{facts: make(map[string][]Fact)}
}

// AddFact seeds a fact for userID.
func (m *MockClient) AddFact(userID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[userID] = append(m.facts[userID], Fact{
		ID:        userID + "-" + time.Now().Format("150405.000000000"),
		Text:      text,
		CreatedAt: time.Now(),
	})
}

// Search implements Client.
func (m *MockClient) Search(ctx context.Context, userID, query string, maxFacts int) ([]Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++

	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(strings.ToLower(query))
	result := []Fact{}
	for _, f := range m.facts[userID] {
		if len(result) >= maxFacts {
			break
		}
		text := strings.ToLower(f.Text)
		for _, w := range words {
			if len(w) > 2 && strings.Contains(text, w) {
				result = append(result, f)
				break
			}
		}
	}
	return result, nil
}

// Store implements Client.
func (m *MockClient) Store(ctx context.Context, userID, userMessage, response string) error {
	if m.StoreDelay > 0 {
		select {
		case <-time.After(m.StoreDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreErr != nil {
		return m.StoreErr
	}
	m.stored = append(m.stored, StoredExchange{UserID: userID, UserMessage: userMessage, Response: response})
	return nil
}

// Stored returns a copy of every recorded exchange.
func (m *MockClient) Stored() []StoredExchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredExchange, len(m.stored))
	copy(out, m.stored)
	return out
}

// SearchCount returns how many times Search was called.
func (m *MockClient) SearchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searches
}

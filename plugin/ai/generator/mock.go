package generator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// MockGenerator is a scripted Generator for tests and offline runs.
type MockGenerator struct {
	// Tokens are streamed in order; Generate joins them.
	Tokens []string
	// Err fails Generate, or the stream after FailAfter tokens.
	Err       error
	FailAfter int
	// TokenDelay is waited before each streamed token.
	TokenDelay time.Duration
	ModelName  string

	mu       sync.Mutex
	calls    int
	lastMind *mindstate.Mindstate
}

// NewMockGenerator creates a mock that replies with tokens.
func NewMockGenerator(tokens ...string) *MockGenerator {
	return &MockGenerator{Tokens: tokens, ModelName: "mock"}
}

func (m *MockGenerator) record(ms *mindstate.Mindstate) {
	m.mu.Lock()
	m.calls++
	m.lastMind = ms
	m.mu.Unlock()
}

// Calls returns how many generations were requested.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastMindstate returns the mindstate of the latest call.
func (m *MockGenerator) LastMindstate() *mindstate.Mindstate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMind
}

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, ms *mindstate.Mindstate, message string) (*Generation, error) {
	m.record(ms)
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.Join(m.Tokens, "")
	return &Generation{
		Text:             text,
		Model:            m.ModelName,
		PromptTokens:     len(strings.Fields(SystemPrompt(ms))) + len(strings.Fields(message)),
		CompletionTokens: len(strings.Fields(text)),
	}, nil
}

// Stream implements Generator.
func (m *MockGenerator) Stream(ctx context.Context, ms *mindstate.Mindstate, message string) (<-chan string, <-chan error) {
	m.record(ms)
	tokens := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(tokens)

		for i, tok := range m.Tokens {
			if m.Err != nil && i == m.FailAfter {
				errs <- m.Err
				return
			}
			if m.TokenDelay > 0 {
				select {
				case <-time.After(m.TokenDelay):
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			select {
			case tokens <- tok:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if m.Err != nil && m.FailAfter >= len(m.Tokens) {
			errs <- m.Err
		}
	}()

	return tokens, errs
}

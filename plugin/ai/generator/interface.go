// Package generator produces the conscious-layer reply from a mindstate,
// either in one batch or as a token stream.
package generator

import (
	"context"
	"errors"
	"time"

	"github.com/hrygo/mindloop/plugin/ai/mindstate"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("empty generation response")

// Generator calls the generation API.
type Generator interface {
	// Generate returns the complete reply.
	Generate(ctx context.Context, ms *mindstate.Mindstate, message string) (*Generation, error)

	// Stream yields reply fragments in order. The token channel is closed when
	// the stream ends; the error channel then carries at most one error and is
	// closed. Cancelling ctx stops the stream and closes both channels.
	Stream(ctx context.Context, ms *mindstate.Mindstate, message string) (<-chan string, <-chan error)
}

// Generation is the result of a batch generation.
type Generation struct {
	Text             string
	Model            string
	Latency          time.Duration
	PromptTokens     int // zero when the provider did not report usage
	CompletionTokens int
}

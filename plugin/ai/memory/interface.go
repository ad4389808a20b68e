// Package memory provides the client for the temporal knowledge-graph memory
// service and the persistence gateway that writes completed turns to it.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when no memory service endpoint is configured.
var ErrNotConfigured = errors.New("memory service not configured")

// Client defines the memory-service operations the core consumes.
type Client interface {
	// Search returns up to maxFacts facts relevant to query, scoped to userID.
	Search(ctx context.Context, userID, query string, maxFacts int) ([]Fact, error)

	// Store records one conversational exchange for userID.
	Store(ctx context.Context, userID, userMessage, response string) error
}

// Fact is one fact returned by the memory service.
type Fact struct {
	ID        string    `json:"uuid"`
	Text      string    `json:"fact"`
	CreatedAt time.Time `json:"created_at"`
}

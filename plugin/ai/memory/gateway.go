package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hrygo/mindloop/internal/observability"
)

// Gateway dispatches completed turns to the memory service without blocking
// the caller. Failures are logged and counted, never returned.
type Gateway struct {
	client Client
	wg     sync.WaitGroup

	stored atomic.Int64
	failed atomic.Int64
}

// NewGateway creates a persistence gateway. A nil client makes Remember a no-op.
func NewGateway(client Client) *Gateway {
	return &Gateway{client: client}
}

// Remember starts a detached write of one exchange and returns immediately.
// The write outlives ctx cancellation; only its values are inherited.
func (g *Gateway) Remember(ctx context.Context, userID, userMessage, response string) {
	if g == nil || g.client == nil {
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		start := time.Now()
		logger := observability.LoggerFromContext(ctx)
		err := g.client.Store(context.WithoutCancel(ctx), userID, userMessage, response)
		if err != nil {
			g.failed.Add(1)
			logger.Warn("memory persistence failed",
				"user_id", userID,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err)
			return
		}
		g.stored.Add(1)
		logger.Debug("memory persisted",
			"user_id", userID,
			"duration_ms", time.Since(start).Milliseconds())
	}()
}

// Wait blocks until every dispatched write settled or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of successful and failed writes so far.
func (g *Gateway) Stats() (stored, failed int64) {
	return g.stored.Load(), g.failed.Load()
}

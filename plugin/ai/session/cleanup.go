package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultIdleTimeout is how long a session may sit unused before it is dropped.
	DefaultIdleTimeout = 24 * time.Hour
	// DefaultCleanupInterval is the default interval between cleanup runs.
	DefaultCleanupInterval = time.Hour
)

// CleanupConfig holds configuration for the cleanup job.
type CleanupConfig struct {
	IdleTimeout     time.Duration // Sessions idle longer than this are removed (default: 24h)
	CleanupInterval time.Duration // Interval between cleanup runs (default: 1h)
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		IdleTimeout:     DefaultIdleTimeout,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// CleanupJob periodically removes idle sessions from an Expirer.
// Sessions otherwise live for the process lifetime.
type CleanupJob struct {
	store  Expirer
	config CleanupConfig

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewCleanupJob creates a new cleanup job.
func NewCleanupJob(store Expirer, config CleanupConfig) *CleanupJob {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}

	return &CleanupJob{
		store:  store,
		config: config,
	}
}

// Start begins the periodic cleanup in a goroutine.
func (j *CleanupJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}

	j.running = true
	j.stopChan = make(chan struct{})
	j.done = make(chan struct{})

	go j.run(ctx, j.stopChan, j.done)

	slog.Info("session cleanup job started",
		"idle_timeout", j.config.IdleTimeout,
		"interval", j.config.CleanupInterval)
}

// Stop stops the cleanup job and waits for the loop to exit.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopChan)
	done := j.done
	j.running = false
	j.mu.Unlock()

	<-done
	slog.Info("session cleanup job stopped")
}

// RunOnce executes a single cleanup run immediately.
func (j *CleanupJob) RunOnce(ctx context.Context) (int64, error) {
	return j.store.CleanupExpired(ctx, j.config.IdleTimeout)
}

// IsRunning returns whether the cleanup job is currently running.
func (j *CleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CleanupJob) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if deleted, err := j.RunOnce(ctx); err != nil {
				slog.Error("session cleanup failed", "error", err)
			} else if deleted > 0 {
				slog.Info("session cleanup completed", "deleted", deleted)
			}
		}
	}
}

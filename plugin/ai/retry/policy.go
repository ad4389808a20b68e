package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Config configures a Policy.
type Config struct {
	MaxAttempts int           // retries allowed after the first call
	BaseDelay   time.Duration // delay of the first retry before jitter
	MaxDelay    time.Duration // cap applied before jitter

	// Rand returns a float in [0, 1). Nil means math/rand/v2.
	Rand func() float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// JitterRatio is the multiplicative jitter applied to every delay (±20%).
const JitterRatio = 0.2

// Policy tracks attempts for one logical operation and computes backoff delays.
// The caller performs the wait. A Policy is safe for concurrent use but is
// meant to be owned by a single call site.
type Policy struct {
	mu       sync.Mutex
	cfg      Config
	attempts int
}

// NewPolicy creates a Policy, filling zero fields with defaults.
func NewPolicy(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	return &Policy{cfg: cfg}
}

// ShouldRetry reports whether err is transient and attempts remain.
func (p *Policy) ShouldRetry(err error) bool {
	if err == nil || p.IsExhausted() {
		return false
	}
	return IsRetryable(err)
}

// NextDelay records an attempt and returns the delay before it:
// min(base * 2^(n-1), max) with ±20% jitter, rounded to the millisecond.
func (p *Policy) NextDelay() time.Duration {
	p.mu.Lock()
	p.attempts++
	n := p.attempts
	cfg := p.cfg
	p.mu.Unlock()

	raw := float64(cfg.BaseDelay) * math.Pow(2, float64(n-1))
	if math.IsInf(raw, 0) || raw > float64(cfg.MaxDelay) {
		raw = float64(cfg.MaxDelay)
	}
	factor := 1 - JitterRatio + cfg.Rand()*2*JitterRatio
	return time.Duration(float64(raw) * factor).Round(time.Millisecond)
}

// IsExhausted reports whether the recorded attempts reached the maximum.
func (p *Policy) IsExhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts >= p.cfg.MaxAttempts
}

// Attempts returns the number of recorded attempts.
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Reset clears the attempt counter.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy is
// exhausted. Cancellation of ctx stops the loop and is returned as-is.
func Do(ctx context.Context, p *Policy, operation string, fn func(ctx context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !p.ShouldRetry(err) {
			return err
		}

		wait := p.NextDelay()
		slog.Debug("retrying after transient failure",
			"operation", operation,
			"attempt", p.Attempts(),
			"wait_time", wait,
			"error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mindloop/internal/observability"
	"github.com/hrygo/mindloop/internal/profile"
	"github.com/hrygo/mindloop/plugin/ai/generator"
	"github.com/hrygo/mindloop/plugin/ai/memory"
	"github.com/hrygo/mindloop/plugin/ai/pipeline"
	"github.com/hrygo/mindloop/plugin/ai/retry"
	"github.com/hrygo/mindloop/plugin/ai/session"
	"github.com/hrygo/mindloop/plugin/ai/taskrunner"
	"github.com/hrygo/mindloop/plugin/ai/welayer"
)

// gatewayDrainTimeout bounds how long shutdown waits for pending memory writes.
const gatewayDrainTimeout = 10 * time.Second

// app holds the wired components of one mindloop process.
type app struct {
	profile  *profile.Profile
	store    session.Store
	runner   *taskrunner.ProcessRunner
	gateway  *memory.Gateway
	pipeline *pipeline.Pipeline
	cleanup  *session.CleanupJob

	closeStore func() error
}

func retryConfig(p *profile.Profile) retry.Config {
	return retry.Config{
		MaxAttempts: p.RetryMaxAttempts,
		BaseDelay:   p.RetryBaseDelay,
		MaxDelay:    p.RetryMaxDelay,
	}
}

func runnerConfig(p *profile.Profile) taskrunner.Config {
	cfg := taskrunner.DefaultConfig()
	cfg.Command = p.AgentCommand
	cfg.Model = p.AgentModel
	cfg.ConfigDir = p.AgentConfigDir
	cfg.Concurrency = p.AgentConcurrency
	cfg.Timeout = p.AgentTimeout
	return cfg
}

func openStore(ctx context.Context, p *profile.Profile) (session.Store, func() error, error) {
	switch p.SessionDriver {
	case profile.DriverSQLite:
		s, err := session.OpenSQLiteStore(ctx, p.SessionDSN)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open session store %s", p.SessionDSN)
		}
		return s, s.Close, nil
	default:
		return session.NewMemoryStore(), func() error { return nil }, nil
	}
}

// newApp wires every component from p. gen overrides the OpenAI generator
// when non-nil.
func newApp(ctx context.Context, p *profile.Profile, gen generator.Generator) (*app, error) {
	store, closeStore, err := openStore(ctx, p)
	if err != nil {
		return nil, err
	}

	var mem memory.Client
	if p.IsMemoryEnabled() {
		mem = memory.NewHTTPClient(memory.HTTPConfig{
			BaseURL:       p.MemoryBaseURL,
			APIKey:        p.MemoryAPIKey,
			SearchTimeout: p.MemorySearchTimeout,
			StoreTimeout:  p.MemoryStoreTimeout,
			RateLimit:     p.MemoryRateLimit,
			RateBurst:     p.MemoryRateBurst,
			Retry:         retryConfig(p),
		})
	} else {
		slog.Info("memory service disabled, using pattern associations only")
	}

	runner := taskrunner.NewProcessRunner(runnerConfig(p))
	var executor taskrunner.Executor
	if p.DeepSweep {
		executor = runner
	}

	if gen == nil {
		gen = generator.NewOpenAIGenerator(generator.Config{
			Provider:    p.LLMProvider,
			BaseURL:     p.LLMBaseURL,
			APIKey:      p.LLMAPIKey,
			Model:       p.LLMModel,
			MaxTokens:   p.LLMMaxTokens,
			Temperature: float32(p.LLMTemperature),
			Retry:       retryConfig(p),
		})
	}

	gateway := memory.NewGateway(mem)
	assembler := welayer.NewAssembler(mem, executor, welayer.Config{
		MaxFacts:    p.MemoryMaxFacts,
		DeepSweep:   p.DeepSweep,
		WithInsight: p.InsightTask,
	})
	pl := pipeline.New(pipeline.Config{
		IdentityKernel:  p.IdentityKernel,
		SerializeTurns:  p.SerializeTurns,
		StreamTimeout:   p.StreamTimeout,
		GenerateTimeout: p.GenerateTimeout,
		Metrics:         observability.NewMetrics(0),
		Logger:          slog.Default(),
	}, store, assembler, gen, gateway)

	a := &app{
		profile:    p,
		store:      store,
		runner:     runner,
		gateway:    gateway,
		pipeline:   pl,
		closeStore: closeStore,
	}
	// In-memory sessions live as long as the process; only durable ones expire.
	if expirer, ok := store.(session.Expirer); ok && p.SessionDriver == profile.DriverSQLite {
		a.cleanup = session.NewCleanupJob(expirer, session.CleanupConfig{IdleTimeout: p.SessionIdleTTL})
	}
	return a, nil
}

// Close drains pending memory writes and closes the session store.
func (a *app) Close() error {
	if a.cleanup != nil {
		a.cleanup.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), gatewayDrainTimeout)
	defer cancel()
	if err := a.gateway.Wait(ctx); err != nil {
		stored, failed := a.gateway.Stats()
		slog.Warn("memory writes still pending at shutdown",
			"stored", stored,
			"failed", failed,
			"error", err)
	}
	return a.closeStore()
}

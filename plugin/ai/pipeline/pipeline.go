// Package pipeline runs a conversational turn through its fixed phases:
// receiving, unconscious (context assembly), integrating (mindstate),
// conscious (generation), responding and remembering.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	aierrors "github.com/hrygo/mindloop/internal/errors"
	"github.com/hrygo/mindloop/internal/observability"
	"github.com/hrygo/mindloop/plugin/ai/generator"
	"github.com/hrygo/mindloop/plugin/ai/memory"
	"github.com/hrygo/mindloop/plugin/ai/mindstate"
	"github.com/hrygo/mindloop/plugin/ai/session"
	"github.com/hrygo/mindloop/plugin/ai/timeout"
)

// ContextAssembler produces the context brief of a turn.
type ContextAssembler interface {
	AssembleContextBrief(ctx context.Context, userID, message string, previous []mindstate.Turn) *mindstate.ContextBrief
}

// ChatOptions are per-call options.
type ChatOptions struct {
	UserID string
	Debug  bool
}

// Config configures a Pipeline.
type Config struct {
	IdentityKernel string
	// SerializeTurns holds a per-user lock for the whole turn.
	SerializeTurns  bool
	StreamTimeout   time.Duration
	GenerateTimeout time.Duration
	Metrics         *observability.Metrics
	Logger          *slog.Logger
}

// Pipeline orchestrates turns. It is safe for concurrent use.
type Pipeline struct {
	store     session.Store
	assembler ContextAssembler
	builder   *mindstate.Builder
	generator generator.Generator
	gateway   *memory.Gateway
	locks     *session.UserLocks
	metrics   *observability.Metrics
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// New creates a Pipeline. gateway may be nil to skip persistence.
func New(cfg Config, store session.Store, assembler ContextAssembler, gen generator.Generator, gateway *memory.Gateway) *Pipeline {
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = timeout.StreamTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = timeout.GenerateTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pipeline{
		store:     store,
		assembler: assembler,
		builder:   mindstate.NewBuilder(cfg.IdentityKernel),
		generator: gen,
		gateway:   gateway,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		cfg:       cfg,
		now:       time.Now,
	}
	if cfg.SerializeTurns {
		p.locks = session.NewUserLocks()
	}
	return p
}

// Metrics returns the pipeline's metrics collector.
func (p *Pipeline) Metrics() *observability.Metrics {
	return p.metrics
}

// Chat runs one batch turn and returns the committed Turn.
func (p *Pipeline) Chat(ctx context.Context, message string, opts ChatOptions) (*mindstate.Turn, error) {
	return p.run(ctx, message, opts, false, func(Event) bool {
		return ctx.Err() == nil
	})
}

// ChatStream runs one turn and streams its events. The channel is closed after
// a done or error event. The caller must drain the channel or cancel ctx; on
// cancellation no further events are sent and no Turn is committed.
func (p *Pipeline) ChatStream(ctx context.Context, message string, opts ChatOptions) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		emit := func(e Event) bool {
			if ctx.Err() != nil {
				return false
			}
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		turn, err := p.run(ctx, message, opts, true, emit)
		if err != nil {
			if ctx.Err() == nil {
				emit(Event{Type: EventError, Err: err})
			}
			return
		}
		emit(Event{Type: EventDone, Turn: turn})
	}()

	return events
}

// GetSession returns the user's session, or false when there is none.
func (p *Pipeline) GetSession(ctx context.Context, userID string) (*session.Session, bool) {
	sess, ok, err := p.store.Get(ctx, userID)
	if err != nil {
		p.logger.Warn("session lookup failed", "user_id", userID, "error", err)
		return nil, false
	}
	return sess, ok
}

// ClearSession discards every turn of the user's session.
func (p *Pipeline) ClearSession(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return aierrors.InvalidArgument("user id is required")
	}
	if err := p.store.Clear(ctx, userID); err != nil {
		return aierrors.Wrap(err, aierrors.ErrCodeSessionUnavailable, "failed to clear session")
	}
	p.logger.Info("session cleared", "user_id", userID)
	return nil
}

// errConsumerGone marks a stream whose consumer stopped listening.
var errConsumerGone = errors.New("event consumer gone")

// tracker advances phases and records their latency.
type tracker struct {
	emit    func(Event) bool
	rc      *observability.RequestContext
	metrics *observability.Metrics
	latency map[string]int64
	current Phase
	started time.Time
}

func (t *tracker) enter(phase Phase) error {
	t.finish()
	t.current = phase
	t.started = time.Now()
	t.rc.Debug("phase entered", slog.String(observability.LogFieldPhase, string(phase)))
	if !t.emit(Event{Type: EventPhase, Phase: phase}) {
		return errConsumerGone
	}
	return nil
}

func (t *tracker) finish() {
	if t.current == "" {
		return
	}
	d := time.Since(t.started)
	t.latency[string(t.current)] = d.Milliseconds()
	t.metrics.RecordPhase(string(t.current), d)
	t.current = ""
}

func (p *Pipeline) run(ctx context.Context, message string, opts ChatOptions, stream bool, emit func(Event) bool) (*mindstate.Turn, error) {
	mode := "batch"
	if stream {
		mode = "stream"
	}
	turnID := shortuuid.New()
	rc := observability.NewRequestContext(p.logger, mode, opts.UserID, turnID)
	ctx = observability.WithRequestContext(ctx, rc)
	p.metrics.RecordTurn()

	if strings.TrimSpace(opts.UserID) == "" {
		return nil, p.fail(rc, aierrors.InvalidArgument("user id is required"))
	}
	if strings.TrimSpace(message) == "" {
		return nil, p.fail(rc, aierrors.InvalidArgument("message is empty"))
	}

	rc.Info("turn started", slog.Int(observability.LogFieldMessageLen, len(message)))

	if p.locks != nil {
		unlock, err := p.locks.Lock(ctx, opts.UserID)
		if err != nil {
			return nil, p.fail(rc, aierrors.ContextCanceled(err))
		}
		defer unlock()
	}

	t := &tracker{emit: emit, rc: rc, metrics: p.metrics, latency: make(map[string]int64)}
	canceled := func(cause error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = ctxErr
		}
		return p.fail(rc, aierrors.ContextCanceled(cause))
	}

	// receiving
	if err := t.enter(PhaseReceiving); err != nil {
		return nil, canceled(err)
	}
	sess, err := p.store.GetOrCreate(ctx, opts.UserID)
	if err != nil {
		return nil, p.fail(rc, aierrors.Wrap(err, aierrors.ErrCodeSessionUnavailable, "failed to load session"))
	}
	previous := sess.Turns

	// unconscious
	if err := t.enter(PhaseUnconscious); err != nil {
		return nil, canceled(err)
	}
	brief := p.assembler.AssembleContextBrief(ctx, opts.UserID, message, previous)
	if ctx.Err() != nil {
		return nil, canceled(ctx.Err())
	}
	if brief == nil {
		return nil, p.fail(rc, aierrors.Wrap(nil, aierrors.ErrCodeContextAssemblyFailed, "no context brief produced"))
	}
	if !emit(Event{Type: EventContext, Context: brief}) {
		return nil, canceled(errConsumerGone)
	}

	// integrating
	if err := t.enter(PhaseIntegrating); err != nil {
		return nil, canceled(err)
	}
	ms := p.builder.Build(previous, brief)

	// conscious
	if err := t.enter(PhaseConscious); err != nil {
		return nil, canceled(err)
	}
	var (
		text string
		gen  *generator.Generation
	)
	if stream {
		text, err = p.streamTokens(ctx, ms, message, emit)
	} else {
		gen, err = p.generate(ctx, ms, message)
		if gen != nil {
			text = gen.Text
		}
	}
	if err != nil {
		if errors.Is(err, errConsumerGone) || ctx.Err() != nil {
			return nil, canceled(err)
		}
		return nil, p.fail(rc, aierrors.FromGeneration(err))
	}

	// responding
	if err := t.enter(PhaseResponding); err != nil {
		return nil, canceled(err)
	}
	turn := &mindstate.Turn{
		ID:          turnID,
		UserID:      opts.UserID,
		Timestamp:   p.now(),
		UserMessage: message,
		Response:    text,
		Mindstate:   ms,
	}
	t.finish()
	if opts.Debug {
		turn.Debug = p.debugInfo(t.latency, brief, ms, message, text, gen)
	}
	if ctx.Err() != nil {
		return nil, canceled(ctx.Err())
	}
	if err := p.store.Append(ctx, opts.UserID, *turn); err != nil {
		return nil, p.fail(rc, aierrors.Wrap(err, aierrors.ErrCodeSessionUnavailable, "failed to commit turn"))
	}

	// remembering
	if err := t.enter(PhaseRemembering); err != nil {
		// The turn is committed; only the notification is lost.
		rc.Debug("consumer left after commit")
	}
	p.gateway.Remember(ctx, opts.UserID, message, text)
	t.finish()

	p.metrics.RecordDuration(rc.Duration())
	rc.Info("turn completed",
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
		slog.Int("response_length", len(text)))
	return turn, nil
}

func (p *Pipeline) generate(ctx context.Context, ms *mindstate.Mindstate, message string) (*generator.Generation, error) {
	gctx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()
	return p.generator.Generate(gctx, ms, message)
}

// streamTokens forwards generated tokens as events and returns the full text.
// Cancellation is checked before each token is consumed.
func (p *Pipeline) streamTokens(ctx context.Context, ms *mindstate.Mindstate, message string, emit func(Event) bool) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, p.cfg.StreamTimeout)
	defer cancel()

	tokens, errs := p.generator.Stream(gctx, ms, message)
	var sb strings.Builder
	for tok := range tokens {
		if ctx.Err() != nil || !emit(Event{Type: EventToken, Token: tok}) {
			cancel()
			for range tokens {
			}
			<-errs
			return "", errConsumerGone
		}
		p.metrics.RecordStreamToken()
		sb.WriteString(tok)
	}
	if err := <-errs; err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (p *Pipeline) debugInfo(latency map[string]int64, brief *mindstate.ContextBrief, ms *mindstate.Mindstate, message, text string, gen *generator.Generation) *mindstate.TurnDebug {
	d := &mindstate.TurnDebug{
		PhaseLatencyMs:   make(map[string]int64, len(latency)),
		PromptTokens:     estimateTokens(generator.SystemPrompt(ms)) + estimateTokens(message),
		CompletionTokens: estimateTokens(text),
		MemoryQueries:    brief.MemoryQueries,
	}
	for k, v := range latency {
		d.PhaseLatencyMs[k] = v
	}
	if gen != nil {
		d.Model = gen.Model
		if gen.PromptTokens > 0 {
			d.PromptTokens = gen.PromptTokens
		}
		if gen.CompletionTokens > 0 {
			d.CompletionTokens = gen.CompletionTokens
		}
	} else if named, ok := p.generator.(interface{ Model() string }); ok {
		d.Model = named.Model()
	}
	return d
}

// estimateTokens approximates a token count by whitespace word count.
func estimateTokens(s string) int {
	return len(strings.Fields(s))
}

func (p *Pipeline) fail(rc *observability.RequestContext, err *aierrors.AIError) error {
	if err.Code == aierrors.ErrCodeContextCanceled {
		p.metrics.RecordCanceled()
		rc.Info("turn canceled", slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
		return err
	}
	p.metrics.RecordFailure(string(err.Code))
	rc.Error("turn failed", err,
		slog.String(observability.LogFieldErrorCode, string(err.Code)),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()))
	return err
}

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	aierrors "github.com/hrygo/mindloop/internal/errors"
	"github.com/hrygo/mindloop/plugin/ai/generator"
	"github.com/hrygo/mindloop/plugin/ai/memory"
	"github.com/hrygo/mindloop/plugin/ai/mindstate"
	"github.com/hrygo/mindloop/plugin/ai/retry"
	"github.com/hrygo/mindloop/plugin/ai/session"
	"github.com/hrygo/mindloop/plugin/ai/welayer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	p       *Pipeline
	store   *session.MemoryStore
	gen     *generator.MockGenerator
	mem     *memory.MockClient
	gateway *memory.Gateway
}

func newFixture(t *testing.T, gen *generator.MockGenerator, serialize bool) *fixture {
	t.Helper()
	store := session.NewMemoryStore()
	mem := memory.NewMockClient()
	gw := memory.NewGateway(mem)
	p := New(Config{
		SerializeTurns: serialize,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, store, welayer.NewAssembler(mem, nil, welayer.Config{}), gen, gw)
	t.Cleanup(func() { _ = gw.Wait(context.Background()) })
	return &fixture{p: p, store: store, gen: gen, mem: mem, gateway: gw}
}

func drain(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func shape(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		switch e.Type {
		case EventPhase:
			out = append(out, "phase:"+string(e.Phase))
		case EventToken:
			out = append(out, "token:"+e.Token)
		default:
			out = append(out, string(e.Type))
		}
	}
	return out
}

func turnCount(t *testing.T, f *fixture, userID string) int {
	t.Helper()
	sess, ok := f.p.GetSession(context.Background(), userID)
	if !ok {
		return 0
	}
	return sess.TurnCount()
}

func TestChatStream_EventOrder(t *testing.T) {
	f := newFixture(t, generator.NewMockGenerator("Hi", " there", "!"), true)

	events := drain(f.p.ChatStream(context.Background(), "Hello there!", ChatOptions{UserID: "alice"}))
	assert.Equal(t, []string{
		"phase:receiving",
		"phase:unconscious",
		"context",
		"phase:integrating",
		"phase:conscious",
		"token:Hi",
		"token: there",
		"token:!",
		"phase:responding",
		"phase:remembering",
		"done",
	}, shape(events))

	ctxEvent := events[2]
	require.NotNil(t, ctxEvent.Context)
	assert.Equal(t, mindstate.IntentGreeting, ctxEvent.Context.PrimaryIntent)

	done := events[len(events)-1]
	require.NotNil(t, done.Turn)
	assert.Equal(t, "Hi there!", done.Turn.Response)
	assert.Equal(t, "Hello there!", done.Turn.UserMessage)
	assert.NotEmpty(t, done.Turn.ID)
	assert.Nil(t, done.Turn.Debug)

	sess, ok := f.p.GetSession(context.Background(), "alice")
	require.True(t, ok)
	require.Equal(t, 1, sess.TurnCount())
	assert.Equal(t, done.Turn.ID, sess.Turns[0].ID)
	assert.Equal(t, done.Turn.Mindstate, sess.LastMindstate)

	require.NoError(t, f.gateway.Wait(context.Background()))
	stored := f.mem.Stored()
	require.Len(t, stored, 1)
	assert.Equal(t, memory.StoredExchange{UserID: "alice", UserMessage: "Hello there!", Response: "Hi there!"}, stored[0])

	snap := f.p.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TurnTotal)
	assert.Equal(t, int64(3), snap.StreamTokens)
	assert.Contains(t, snap.PhaseAvgMs, "conscious")
}

func TestChat_Batch(t *testing.T) {
	f := newFixture(t, generator.NewMockGenerator("I hear ", "you."), false)

	turn, err := f.p.Chat(context.Background(), "I am feeling really sad today", ChatOptions{UserID: "bob", Debug: true})
	require.NoError(t, err)
	assert.Equal(t, "I hear you.", turn.Response)
	require.NotNil(t, turn.Mindstate)
	assert.Equal(t, mindstate.EmotionSad, turn.Mindstate.WorkingMemory.EmotionalBaseline)
	assert.Contains(t, turn.Mindstate.SituationSnapshot, "They seem sad.")

	require.NotNil(t, turn.Debug)
	for _, phase := range []string{"receiving", "unconscious", "integrating", "conscious", "responding"} {
		assert.Contains(t, turn.Debug.PhaseLatencyMs, phase)
	}
	assert.Equal(t, "mock", turn.Debug.Model)
	assert.Equal(t, 2, turn.Debug.CompletionTokens)
	assert.Greater(t, turn.Debug.PromptTokens, 0)
	assert.Equal(t, 1, turn.Debug.MemoryQueries)

	assert.Equal(t, 1, turnCount(t, f, "bob"))
}

func TestChat_WorkingMemoryCarriesOver(t *testing.T) {
	f := newFixture(t, generator.NewMockGenerator("Sure."), true)
	ctx := context.Background()

	_, err := f.p.Chat(ctx, "Can we talk about my garden? It is growing.", ChatOptions{UserID: "carol"})
	require.NoError(t, err)
	second, err := f.p.Chat(ctx, "and the tomatoes", ChatOptions{UserID: "carol"})
	require.NoError(t, err)

	wm := second.Mindstate.WorkingMemory
	assert.Equal(t, "Can we talk about my garden? It is growing.", wm.LastTopic)
	assert.Equal(t, "Sure.", wm.ContinuityAnchor)
	assert.Equal(t, []string{"Can we talk about my garden?"}, wm.OpenLoops)
	assert.Same(t, second.Mindstate, f.gen.LastMindstate())
}

func TestChatStream_GenerationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code aierrors.ErrorCode
	}{
		{"Permanent", errors.New("model refused"), aierrors.ErrCodeGenerationFailed},
		{"Transient", &retry.HTTPError{Status: 503}, aierrors.ErrCodeLLMUnavailable},
		{"Deadline", context.DeadlineExceeded, aierrors.ErrCodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := generator.NewMockGenerator("partial", "never")
			gen.Err = tt.err
			gen.FailAfter = 1
			f := newFixture(t, gen, true)

			events := drain(f.p.ChatStream(context.Background(), "tell me a story", ChatOptions{UserID: "dave"}))
			require.NotEmpty(t, events)
			last := events[len(events)-1]
			assert.Equal(t, EventError, last.Type)
			assert.True(t, aierrors.IsCode(last.Err, tt.code), "got %v", last.Err)
			for _, e := range events {
				assert.NotEqual(t, EventDone, e.Type)
				assert.NotEqual(t, PhaseResponding, e.Phase)
			}
			assert.Equal(t, 0, turnCount(t, f, "dave"))
			assert.Empty(t, f.mem.Stored())
		})
	}
}

func TestChat_GenerationFailure(t *testing.T) {
	gen := generator.NewMockGenerator("x")
	gen.Err = errors.New("boom")
	f := newFixture(t, gen, false)

	turn, err := f.p.Chat(context.Background(), "hello", ChatOptions{UserID: "erin"})
	assert.Nil(t, turn)
	assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeGenerationFailed))
	assert.Equal(t, 0, turnCount(t, f, "erin"))

	snap := f.p.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.TurnFailed)
	assert.Equal(t, int64(1), snap.FailuresByCode[string(aierrors.ErrCodeGenerationFailed)])
}

func TestChatStream_CancelMidGeneration(t *testing.T) {
	gen := generator.NewMockGenerator("one ", "two ", "three ", "four ", "five")
	gen.TokenDelay = 20 * time.Millisecond
	f := newFixture(t, gen, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	before := turnCount(t, f, "frank")

	events := f.p.ChatStream(ctx, "count for me", ChatOptions{UserID: "frank"})
	var seen []Event
	for e := range events {
		seen = append(seen, e)
		if e.Type == EventToken {
			cancel()
			break
		}
	}
	seen = append(seen, drain(events)...)

	for _, e := range seen {
		assert.NotEqual(t, EventDone, e.Type)
		assert.NotEqual(t, EventError, e.Type)
	}
	assert.Equal(t, before, turnCount(t, f, "frank"))
	assert.Empty(t, f.mem.Stored())
	assert.Equal(t, int64(1), f.p.Metrics().Snapshot().TurnCanceled)
}

func TestChatStream_ConsumerStopsBeforeGeneration(t *testing.T) {
	f := newFixture(t, generator.NewMockGenerator("hi"), false)
	ctx, cancel := context.WithCancel(context.Background())

	events := f.p.ChatStream(ctx, "hello", ChatOptions{UserID: "gina"})
	first := <-events
	assert.Equal(t, PhaseReceiving, first.Phase)
	cancel()
	for e := range events {
		assert.False(t, e.IsTerminal())
	}
	assert.Equal(t, 0, turnCount(t, f, "gina"))
}

func TestChat_InvalidArguments(t *testing.T) {
	f := newFixture(t, generator.NewMockGenerator("x"), true)
	ctx := context.Background()

	_, err := f.p.Chat(ctx, "hello", ChatOptions{})
	assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeInvalidArgument))

	events := drain(f.p.ChatStream(ctx, "   ", ChatOptions{UserID: "h"}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.True(t, aierrors.IsCode(events[0].Err, aierrors.ErrCodeInvalidArgument))
	assert.Equal(t, 0, f.gen.Calls())
}

func TestChat_PersistenceFailureDoesNotFailTurn(t *testing.T) {
	f := newFixture(t, generator.NewMockGenerator("ok"), true)
	f.mem.StoreErr = errors.New("graph offline")

	turn, err := f.p.Chat(context.Background(), "hello", ChatOptions{UserID: "ivan"})
	require.NoError(t, err)
	assert.Equal(t, "ok", turn.Response)

	require.NoError(t, f.gateway.Wait(context.Background()))
	_, failed := f.gateway.Stats()
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, 1, turnCount(t, f, "ivan"))
}

func TestChatStream_SerializesSameUser(t *testing.T) {
	gen := generator.NewMockGenerator("a", "b", "c")
	gen.TokenDelay = 5 * time.Millisecond
	f := newFixture(t, gen, true)

	var wg sync.WaitGroup
	for _, msg := range []string{"first message", "second message"} {
		wg.Add(1)
		go func(msg string) {
			defer wg.Done()
			drain(f.p.ChatStream(context.Background(), msg, ChatOptions{UserID: "judy"}))
		}(msg)
	}
	wg.Wait()

	sess, ok := f.p.GetSession(context.Background(), "judy")
	require.True(t, ok)
	require.Equal(t, 2, sess.TurnCount())
	assert.Equal(t, sess.Turns[0].UserMessage, sess.Turns[1].Mindstate.WorkingMemory.LastTopic)
}

func TestChat_ReturnedTurnDoesNotAliasHistory(t *testing.T) {
	f := newFixture(t, generator.NewMockGenerator("ok"), false)
	ctx := context.Background()

	turn, err := f.p.Chat(ctx, "hello there", ChatOptions{UserID: "lee", Debug: true})
	require.NoError(t, err)
	snapshot := turn.Mindstate.SituationSnapshot
	model := turn.Debug.Model

	turn.Mindstate.SituationSnapshot = "rewritten"
	turn.Debug.Model = "rewritten"

	sess, ok := f.p.GetSession(ctx, "lee")
	require.True(t, ok)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, snapshot, sess.Turns[0].Mindstate.SituationSnapshot)
	assert.Equal(t, model, sess.Turns[0].Debug.Model)
	assert.Equal(t, snapshot, sess.LastMindstate.SituationSnapshot)
}

func TestClearSession(t *testing.T) {
	f := newFixture(t, generator.NewMockGenerator("ok"), true)
	ctx := context.Background()

	_, err := f.p.Chat(ctx, "hello", ChatOptions{UserID: "kim"})
	require.NoError(t, err)
	require.Equal(t, 1, turnCount(t, f, "kim"))

	require.NoError(t, f.p.ClearSession(ctx, "kim"))
	_, ok := f.p.GetSession(ctx, "kim")
	assert.False(t, ok)

	assert.True(t, aierrors.IsCode(f.p.ClearSession(ctx, ""), aierrors.ErrCodeInvalidArgument))
}

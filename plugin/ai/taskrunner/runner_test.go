package taskrunner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAgent writes an executable shell script standing in for the agent.
// The script sees the prompt as its last argument in $prompt.
func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agents need /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "agent")
	script := "#!/bin/sh\nfor a; do prompt=\"$a\"; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const sweepAgent = `case "$prompt" in
*"TASK: memory_retrieval"*) echo '{"type":"memory_retrieval","memories":[{"content":"likes hiking","relevance":0.9,"kind":"preference"}]}' ;;
*"TASK: emotion_classification"*) echo 'noise before {"type":"emotion","emotion":"sad","intensity":0.7,"confidence":0.8} noise after' ;;
*"TASK: intent_recognition"*) echo '{"type":"intent_recognition","intent":"venting","confidence":0.6}' ;;
*"TASK: insight_generation"*) echo '{"type":"insight_generation","insights":["they miss the outdoors"]}' ;;
esac`

func TestExecuteTask(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_TypeCorrected", func(t *testing.T) {
		r := NewProcessRunner(Config{Command: fakeAgent(t, sweepAgent)})
		res := r.ExecuteTask(ctx, Task{Type: TaskEmotionClassification, Input: "I miss the mountains"})
		require.NoError(t, res.Err)
		assert.NotEmpty(t, res.TaskID)
		assert.Greater(t, res.Elapsed, time.Duration(0))

		var got EmotionResult
		require.NoError(t, res.Decode(&got))
		assert.Equal(t, TaskEmotionClassification, got.Type)
		assert.Equal(t, "sad", got.Emotion)
		assert.InDelta(t, 0.7, got.Intensity, 1e-9)
	})

	t.Run("PassesModelAndConfigDir", func(t *testing.T) {
		agent := fakeAgent(t, `printf '{"type":"insight_generation","insights":["%s","%s","%s"]}' "$1" "$5" "$CLAUDE_CONFIG_DIR"`)
		dir := t.TempDir()
		r := NewProcessRunner(Config{Command: agent, Model: "tiny", ConfigDir: dir})
		res := r.ExecuteTask(ctx, Task{Type: TaskInsightGeneration, Input: "x"})
		require.NoError(t, res.Err)

		var got InsightResult
		require.NoError(t, res.Decode(&got))
		assert.Equal(t, []string{"-p", "tiny", dir}, got.Insights)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		r := NewProcessRunner(Config{Command: fakeAgent(t, `echo "quota exceeded" >&2; exit 3`)})
		res := r.ExecuteTask(ctx, Task{Type: TaskIntentRecognition, Input: "x"})
		require.Error(t, res.Err)

		var te *TaskError
		require.ErrorAs(t, res.Err, &te)
		assert.Equal(t, KindExit, te.Kind)
		assert.Equal(t, 3, te.ExitCode)
		assert.Equal(t, "quota exceeded", te.Stderr)
		assert.False(t, res.OK())
	})

	t.Run("ParseError_KeepsRawOutput", func(t *testing.T) {
		r := NewProcessRunner(Config{Command: fakeAgent(t, `echo "sorry, I cannot do that"`)})
		res := r.ExecuteTask(ctx, Task{Type: TaskMemoryRetrieval, Input: "x"})

		var te *TaskError
		require.ErrorAs(t, res.Err, &te)
		assert.Equal(t, KindParse, te.Kind)
		assert.ErrorIs(t, res.Err, ErrNoJSON)
		assert.Contains(t, te.RawOutput, "sorry, I cannot do that")
	})

	t.Run("Timeout_KillsProcess", func(t *testing.T) {
		r := NewProcessRunner(Config{
			Command:   fakeAgent(t, `sleep 5; echo '{}'`),
			KillGrace: 100 * time.Millisecond,
		})
		start := time.Now()
		res := r.ExecuteTask(ctx, Task{Type: TaskMemoryRetrieval, Input: "x", Timeout: 50 * time.Millisecond})

		var te *TaskError
		require.ErrorAs(t, res.Err, &te)
		assert.Equal(t, KindTimeout, te.Kind)
		assert.ErrorIs(t, res.Err, ErrTaskTimeout)
		assert.Less(t, time.Since(start), 3*time.Second)
		assert.Equal(t, 0, r.InFlight())
	})

	t.Run("ParentCanceled", func(t *testing.T) {
		r := NewProcessRunner(Config{Command: fakeAgent(t, `sleep 5`), KillGrace: 100 * time.Millisecond})
		cctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(30*time.Millisecond, cancel)

		res := r.ExecuteTask(cctx, Task{Type: TaskMemoryRetrieval, Input: "x"})
		var te *TaskError
		require.ErrorAs(t, res.Err, &te)
		assert.Equal(t, KindCanceled, te.Kind)
		assert.True(t, errors.Is(res.Err, context.Canceled))
	})

	t.Run("SpawnError", func(t *testing.T) {
		r := NewProcessRunner(Config{Command: filepath.Join(t.TempDir(), "missing-agent")})
		res := r.ExecuteTask(ctx, Task{Type: TaskMemoryRetrieval, Input: "x"})
		var te *TaskError
		require.ErrorAs(t, res.Err, &te)
		assert.Equal(t, KindSpawn, te.Kind)
	})

	t.Run("UnknownTaskType", func(t *testing.T) {
		r := NewProcessRunner(Config{Command: "true"})
		res := r.ExecuteTask(ctx, Task{Type: "horoscope"})
		require.Error(t, res.Err)
	})
}

func TestExecuteParallel(t *testing.T) {
	ctx := context.Background()

	t.Run("PreservesOrderAndIsolatesFailures", func(t *testing.T) {
		agent := fakeAgent(t, `case "$prompt" in
*"TASK: emotion_classification"*) exit 1 ;;
*) echo '{"ok":true}' ;;
esac`)
		r := NewProcessRunner(Config{Command: agent})
		tasks := []Task{
			{ID: "a", Type: TaskMemoryRetrieval},
			{ID: "b", Type: TaskEmotionClassification},
			{ID: "c", Type: TaskIntentRecognition},
		}
		results := r.ExecuteParallel(ctx, tasks)
		require.Len(t, results, 3)
		for i, res := range results {
			assert.Equal(t, tasks[i].ID, res.TaskID)
			assert.Equal(t, tasks[i].Type, res.Type)
		}
		assert.True(t, results[0].OK())
		assert.False(t, results[1].OK())
		assert.True(t, results[2].OK())
	})

	t.Run("RespectsConcurrencyCeiling", func(t *testing.T) {
		agent := fakeAgent(t, `sleep 0.1; echo '{}'`)
		r := NewProcessRunner(Config{Command: agent, Concurrency: 1})
		tasks := []Task{
			{Type: TaskMemoryRetrieval},
			{Type: TaskMemoryRetrieval},
			{Type: TaskMemoryRetrieval},
		}
		start := time.Now()
		results := r.ExecuteParallel(ctx, tasks)
		assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
		for _, res := range results {
			assert.NoError(t, res.Err)
		}
	})

	t.Run("DuplicateIDsReassigned", func(t *testing.T) {
		r := NewProcessRunner(Config{Command: fakeAgent(t, `echo '{}'`)})
		tasks := []Task{
			{ID: "same", Type: TaskMemoryRetrieval},
			{ID: "same", Type: TaskEmotionClassification},
			{Type: TaskIntentRecognition},
		}
		results := r.ExecuteParallel(ctx, tasks)
		require.Len(t, results, 3)
		assert.Equal(t, "same", results[0].TaskID)
		assert.NotEqual(t, "same", results[1].TaskID)
		assert.NotEmpty(t, results[1].TaskID)
		assert.NotEqual(t, results[1].TaskID, results[2].TaskID)
		assert.Equal(t, TaskEmotionClassification, results[1].Type)
		assert.Equal(t, "same", tasks[1].ID)
		assert.Equal(t, 0, r.InFlight())
	})

	t.Run("Empty", func(t *testing.T) {
		r := NewProcessRunner(Config{})
		assert.Empty(t, r.ExecuteParallel(ctx, nil))
	})
}

func TestProcessSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("AllTasks", func(t *testing.T) {
		r := NewProcessRunner(Config{Command: fakeAgent(t, sweepAgent)})
		res := r.ProcessSweep(ctx, "alice", "s1", "I miss hiking so much", true)

		require.NotNil(t, res.Memory)
		require.Len(t, res.Memory.Memories, 1)
		assert.Equal(t, "preference", res.Memory.Memories[0].Kind)
		require.NotNil(t, res.Emotion)
		assert.Equal(t, "sad", res.Emotion.Emotion)
		require.NotNil(t, res.Intent)
		assert.Equal(t, "venting", res.Intent.Intent)
		require.NotNil(t, res.Insight)
		assert.Equal(t, []string{"they miss the outdoors"}, res.Insight.Insights)
		assert.Empty(t, res.Errors)
		assert.Greater(t, res.Latency, time.Duration(0))
	})

	t.Run("InsightOptional_FailureIsolated", func(t *testing.T) {
		agent := fakeAgent(t, `case "$prompt" in
*"TASK: intent_recognition"*) echo "boom" >&2; exit 2 ;;
esac
`+sweepAgent)
		r := NewProcessRunner(Config{Command: agent})
		res := r.ProcessSweep(ctx, "alice", "s1", "hello", false)

		assert.NotNil(t, res.Memory)
		assert.NotNil(t, res.Emotion)
		assert.Nil(t, res.Intent)
		assert.Nil(t, res.Insight)
		require.Contains(t, res.Errors, TaskIntentRecognition)
		assert.NotContains(t, res.Errors, TaskInsightGeneration)
	})
}

func TestProcessSweep_AgentErrorEnvelope(t *testing.T) {
	agent := fakeAgent(t, `case "$prompt" in
*"TASK: emotion_classification"*) echo '{"type":"result","is_error":true,"result":"I cannot help with that."}'; exit 0 ;;
*"TASK: intent_recognition"*) echo '{"type":"result","is_error":false,"result":"It is hard to say."}'; exit 0 ;;
esac
`+sweepAgent)
	r := NewProcessRunner(Config{Command: agent})
	res := r.ProcessSweep(context.Background(), "alice", "s1", "hello", false)

	assert.NotNil(t, res.Memory)
	assert.Nil(t, res.Emotion)
	assert.Nil(t, res.Intent)
	assert.ErrorIs(t, res.Errors[TaskEmotionClassification], ErrAgentReported)
	assert.ErrorIs(t, res.Errors[TaskIntentRecognition], ErrNoJSON)

	var te *TaskError
	require.ErrorAs(t, res.Errors[TaskIntentRecognition], &te)
	assert.Equal(t, KindParse, te.Kind)
	assert.Contains(t, te.RawOutput, "It is hard to say.")
}

func TestSweepTasks(t *testing.T) {
	tasks := SweepTasks(SweepRequest{UserID: "u", Message: "m", History: []string{"a", "b"}})
	require.Len(t, tasks, 3)
	assert.Equal(t, TaskMemoryRetrieval, tasks[0].Type)
	assert.Equal(t, TaskEmotionClassification, tasks[1].Type)
	assert.Equal(t, TaskIntentRecognition, tasks[2].Type)
	assert.Equal(t, "a\nb", tasks[0].Context["history"])

	tasks = SweepTasks(SweepRequest{WithInsight: true})
	require.Len(t, tasks, 4)
	assert.Equal(t, TaskInsightGeneration, tasks[3].Type)
}

func TestExecuteTask_ShortTimeoutAgainstSlowAgent(t *testing.T) {
	r := NewProcessRunner(Config{
		Command:   fakeAgent(t, `sleep 0.05; echo '{}'`),
		KillGrace: 200 * time.Millisecond,
	})
	start := time.Now()
	res := r.ExecuteTask(context.Background(), Task{Type: TaskEmotionClassification, Input: "x", Timeout: time.Millisecond})

	var te *TaskError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, KindTimeout, te.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProcessSweep_TimeoutIsolated(t *testing.T) {
	agent := fakeAgent(t, `case "$prompt" in
*"TASK: emotion_classification"*) sleep 5 ;;
esac
`+sweepAgent)
	r := NewProcessRunner(Config{Command: agent, Timeout: 150 * time.Millisecond, KillGrace: 100 * time.Millisecond})
	res := r.ProcessSweep(context.Background(), "alice", "s1", "hello", false)

	assert.NotNil(t, res.Memory)
	assert.NotNil(t, res.Intent)
	assert.Nil(t, res.Emotion)
	assert.ErrorIs(t, res.Errors[TaskEmotionClassification], ErrTaskTimeout)
	assert.GreaterOrEqual(t, res.Latency, 150*time.Millisecond)
}

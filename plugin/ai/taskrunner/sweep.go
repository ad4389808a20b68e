package taskrunner

import (
	"context"
	"strings"
	"time"

	"github.com/hrygo/mindloop/internal/observability"
)

// SweepRequest carries the inputs of a deep analysis sweep.
type SweepRequest struct {
	UserID      string
	SessionID   string
	Message     string
	History     []string // recent exchanges, oldest first
	WithInsight bool
}

// SweepTasks builds the tasks of a sweep: memory retrieval, emotion
// classification and intent recognition, plus insight generation on request.
func SweepTasks(req SweepRequest) []Task {
	ctx := map[string]string{}
	if len(req.History) > 0 {
		ctx["history"] = strings.Join(req.History, "\n")
	}
	newTask := func(t TaskType) Task {
		return Task{
			Type:      t,
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Input:     req.Message,
			Context:   ctx,
		}
	}

	tasks := []Task{
		newTask(TaskMemoryRetrieval),
		newTask(TaskEmotionClassification),
		newTask(TaskIntentRecognition),
	}
	if req.WithInsight {
		tasks = append(tasks, newTask(TaskInsightGeneration))
	}
	return tasks
}

// ProcessSweep runs a sweep and returns each typed result independently.
func (r *ProcessRunner) ProcessSweep(ctx context.Context, userID, sessionID, message string, withInsight bool) *SweepResult {
	return RunSweep(ctx, r, SweepRequest{
		UserID:      userID,
		SessionID:   sessionID,
		Message:     message,
		WithInsight: withInsight,
	})
}

// RunSweep runs a sweep on any Executor. One task's failure leaves its field
// nil and records the error; the others are unaffected.
func RunSweep(ctx context.Context, exec Executor, req SweepRequest) *SweepResult {
	start := time.Now()
	tasks := SweepTasks(req)
	results := exec.ExecuteParallel(ctx, tasks)

	out := &SweepResult{Errors: make(map[TaskType]error)}
	for i, res := range results {
		typ := tasks[i].Type
		var err error
		switch typ {
		case TaskMemoryRetrieval:
			var v MemoryResult
			if err = res.Decode(&v); err == nil {
				out.Memory = &v
			}
		case TaskEmotionClassification:
			var v EmotionResult
			if err = res.Decode(&v); err == nil {
				out.Emotion = &v
			}
		case TaskIntentRecognition:
			var v IntentResult
			if err = res.Decode(&v); err == nil {
				out.Intent = &v
			}
		case TaskInsightGeneration:
			var v InsightResult
			if err = res.Decode(&v); err == nil {
				out.Insight = &v
			}
		}
		if err != nil {
			out.Errors[typ] = err
		}
	}
	out.Latency = time.Since(start)

	observability.LoggerFromContext(ctx).Debug("agent sweep completed",
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"tasks", len(tasks),
		"failed", len(out.Errors),
		"latency_ms", out.Latency.Milliseconds())
	return out
}

// Package taskrunner runs analysis tasks through an external agent command,
// one OS process per task, under a global concurrency ceiling.
package taskrunner

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskType identifies the kind of analysis a task performs.
type TaskType string

const (
	TaskMemoryRetrieval       TaskType = "memory_retrieval"
	TaskEmotionClassification TaskType = "emotion_classification"
	TaskIntentRecognition     TaskType = "intent_recognition"
	TaskInsightGeneration     TaskType = "insight_generation"
)

// Task is one unit of work dispatched to the external agent.
type Task struct {
	ID        string
	Type      TaskType
	UserID    string
	SessionID string
	Input     string            // the user message under analysis
	Context   map[string]string // extra template values
	Timeout   time.Duration     // zero uses the runner default
}

// Result is the outcome of one task. Exactly one of Payload or Err is set.
type Result struct {
	TaskID  string
	Type    TaskType
	Payload json.RawMessage
	Elapsed time.Duration
	Err     error
}

// OK reports whether the task produced a payload.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Payload) > 0
}

// Decode unmarshals the payload into v.
func (r Result) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	return json.Unmarshal(r.Payload, v)
}

// ErrorKind classifies task failures.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindExit     ErrorKind = "exit"
	KindParse    ErrorKind = "parse"
	KindSpawn    ErrorKind = "spawn"
	KindCanceled ErrorKind = "canceled"
)

var (
	// ErrTaskTimeout marks a task killed after its timeout.
	ErrTaskTimeout = errors.New("task timed out")
	// ErrNoJSON marks agent output without a JSON object.
	ErrNoJSON = errors.New("no JSON object in agent output")
	// ErrAgentReported marks an agent envelope with is_error set.
	ErrAgentReported = errors.New("agent reported an error")
)

// TaskError describes a failed task with the diagnostics captured from the process.
type TaskError struct {
	TaskID    string
	Type      TaskType
	Kind      ErrorKind
	ExitCode  int
	Stderr    string
	RawOutput string
	Err       error
}

func (e *TaskError) Error() string {
	switch e.Kind {
	case KindExit:
		return fmt.Sprintf("task %s (%s) exited with code %d: %s", e.TaskID, e.Type, e.ExitCode, e.Stderr)
	case KindParse:
		return fmt.Sprintf("task %s (%s) output unparsable: %v", e.TaskID, e.Type, e.Err)
	default:
		return fmt.Sprintf("task %s (%s) %s: %v", e.TaskID, e.Type, e.Kind, e.Err)
	}
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Memory is one recalled item from a memory retrieval task.
type Memory struct {
	Content   string  `json:"content"`
	Relevance float64 `json:"relevance"`
	Kind      string  `json:"kind"` // preference, teaching, fact, event
}

// MemoryResult is the payload of a memory retrieval task.
type MemoryResult struct {
	Type     TaskType `json:"type"`
	Memories []Memory `json:"memories"`
}

// EmotionResult is the payload of an emotion classification task.
type EmotionResult struct {
	Type       TaskType `json:"type"`
	Emotion    string   `json:"emotion"`
	Intensity  float64  `json:"intensity"`
	Confidence float64  `json:"confidence"`
}

// IntentResult is the payload of an intent recognition task.
type IntentResult struct {
	Type       TaskType `json:"type"`
	Intent     string   `json:"intent"`
	Confidence float64  `json:"confidence"`
	Needs      []string `json:"needs,omitempty"`
}

// InsightResult is the payload of an insight generation task.
type InsightResult struct {
	Type     TaskType `json:"type"`
	Insights []string `json:"insights"`
}

// SweepResult holds the typed outcome of a parallel analysis sweep.
// A nil field means that task failed or was not requested; its error is in Errors.
type SweepResult struct {
	Memory  *MemoryResult      `json:"memory,omitempty"`
	Emotion *EmotionResult     `json:"emotion,omitempty"`
	Intent  *IntentResult      `json:"intent,omitempty"`
	Insight *InsightResult     `json:"insight,omitempty"`
	Errors  map[TaskType]error `json:"-"`
	Latency time.Duration      `json:"latency"`
}

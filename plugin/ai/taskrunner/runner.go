package taskrunner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/mindloop/internal/observability"
	"github.com/hrygo/mindloop/plugin/ai/timeout"
)

// Executor runs analysis tasks.
type Executor interface {
	// ExecuteTask runs one task and always returns a Result carrying elapsed time.
	ExecuteTask(ctx context.Context, task Task) Result

	// ExecuteParallel runs tasks concurrently and returns one Result per task
	// in input order. A task's failure never cancels its siblings.
	ExecuteParallel(ctx context.Context, tasks []Task) []Result
}

// DefaultConfigDirEnv is the environment variable the agent reads its
// configuration directory from.
const DefaultConfigDirEnv = "CLAUDE_CONFIG_DIR"

// Config configures a ProcessRunner.
type Config struct {
	Command      string        // agent executable (default "claude")
	Model        string        // model identifier passed to the agent
	ConfigDir    string        // isolated agent config directory; empty inherits
	ConfigDirEnv string        // env var carrying ConfigDir (default CLAUDE_CONFIG_DIR)
	Concurrency  int           // max processes in flight (default 3)
	Timeout      time.Duration // per-task timeout (default timeout.TaskTimeout)
	KillGrace    time.Duration // SIGTERM to SIGKILL grace (default timeout.TaskKillGrace)
	ExtraArgs    []string      // inserted before the prompt
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		Command:      "claude",
		Model:        "haiku",
		ConfigDirEnv: DefaultConfigDirEnv,
		Concurrency:  3,
		Timeout:      timeout.TaskTimeout,
		KillGrace:    timeout.TaskKillGrace,
	}
}

// ProcessRunner executes each task as a fresh agent process.
type ProcessRunner struct {
	cfg Config
	sem *semaphore.Weighted

	mu       sync.Mutex
	inFlight map[string]*exec.Cmd
}

// NewProcessRunner creates a runner, filling zero config fields with defaults.
func NewProcessRunner(cfg Config) *ProcessRunner {
	def := DefaultConfig()
	if cfg.Command == "" {
		cfg.Command = def.Command
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.ConfigDirEnv == "" {
		cfg.ConfigDirEnv = def.ConfigDirEnv
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}
	return &ProcessRunner{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		inFlight: make(map[string]*exec.Cmd),
	}
}

// InFlight returns the number of running agent processes.
func (r *ProcessRunner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inFlight)
}

// ExecuteTask implements Executor.
func (r *ProcessRunner) ExecuteTask(ctx context.Context, task Task) Result {
	start := time.Now()
	if task.ID == "" {
		task.ID = shortuuid.New()
	}

	res := r.execute(ctx, task)
	res.TaskID = task.ID
	res.Type = task.Type
	res.Elapsed = time.Since(start)

	if res.Err != nil {
		observability.LoggerFromContext(ctx).Warn("agent task failed",
			"task_id", task.ID,
			"task_type", task.Type,
			"elapsed_ms", res.Elapsed.Milliseconds(),
			"error", res.Err)
	} else {
		observability.LoggerFromContext(ctx).Debug("agent task completed",
			"task_id", task.ID,
			"task_type", task.Type,
			"elapsed_ms", res.Elapsed.Milliseconds())
	}
	return res
}

// ExecuteParallel implements Executor. Task IDs are unique within the batch:
// empty or repeated IDs get a fresh one.
func (r *ProcessRunner) ExecuteParallel(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	seen := make(map[string]bool, len(tasks))
	var wg sync.WaitGroup
	for i := range tasks {
		task := tasks[i]
		if task.ID == "" || seen[task.ID] {
			if task.ID != "" {
				observability.LoggerFromContext(ctx).Debug("duplicate task id reassigned", "task_id", task.ID, "task_type", task.Type)
			}
			task.ID = shortuuid.New()
		}
		seen[task.ID] = true

		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			results[i] = r.ExecuteTask(ctx, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

func (r *ProcessRunner) execute(ctx context.Context, task Task) Result {
	fail := func(kind ErrorKind, err error) Result {
		return Result{Err: &TaskError{TaskID: task.ID, Type: task.Type, Kind: kind, Err: err}}
	}

	prompt, err := BuildPrompt(task)
	if err != nil {
		return fail(KindSpawn, err)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fail(KindCanceled, err)
	}
	defer r.sem.Release(1)

	limit := task.Timeout
	if limit <= 0 {
		limit = r.cfg.Timeout
	}
	// The deadline timer is released by cancel on every return path.
	tctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	cmd := exec.CommandContext(tctx, r.cfg.Command, r.args(prompt)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = nil
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()
	if r.cfg.ConfigDir != "" {
		cmd.Env = append(cmd.Env, r.cfg.ConfigDirEnv+"="+r.cfg.ConfigDir)
	}
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return terminateProcessGroup(cmd) }
	cmd.WaitDelay = r.cfg.KillGrace

	contextFailure := func() (Result, bool) {
		ctxErr := tctx.Err()
		if ctxErr == nil {
			return Result{}, false
		}
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Result{Err: &TaskError{
				TaskID: task.ID, Type: task.Type, Kind: KindTimeout,
				Stderr: truncate(stderr.String()),
				Err:    pkgerrors.Wrapf(ErrTaskTimeout, "after %v", limit),
			}}, true
		}
		return fail(KindCanceled, ctxErr), true
	}

	if err := cmd.Start(); err != nil {
		if res, ok := contextFailure(); ok {
			return res
		}
		return fail(KindSpawn, pkgerrors.Wrapf(err, "start %s", r.cfg.Command))
	}
	r.track(task.ID, cmd)
	err = cmd.Wait()
	r.untrack(task.ID)

	if res, ok := contextFailure(); ok {
		return res
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return Result{Err: &TaskError{
			TaskID: task.ID, Type: task.Type, Kind: KindExit,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}}
	}

	payload, corrected, err := parsePayload(stdout.String(), task.Type)
	if err != nil {
		return Result{Err: &TaskError{
			TaskID: task.ID, Type: task.Type, Kind: KindParse,
			RawOutput: stdout.String(),
			Stderr:    strings.TrimSpace(stderr.String()),
			Err:       err,
		}}
	}
	if corrected {
		slog.Debug("agent task type corrected", "task_id", task.ID, "task_type", task.Type)
	}
	return Result{Payload: payload}
}

func (r *ProcessRunner) args(prompt string) []string {
	args := []string{"-p", "--output-format", "json", "--model", r.cfg.Model}
	args = append(args, r.cfg.ExtraArgs...)
	return append(args, prompt)
}

func (r *ProcessRunner) track(id string, cmd *exec.Cmd) {
	r.mu.Lock()
	r.inFlight[id] = cmd
	r.mu.Unlock()
}

func (r *ProcessRunner) untrack(id string) {
	r.mu.Lock()
	delete(r.inFlight, id)
	r.mu.Unlock()
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > timeout.MaxTruncateLength {
		return s[:timeout.MaxTruncateLength] + "..."
	}
	return s
}

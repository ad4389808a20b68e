package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hrygo/mindloop/plugin/ai/taskrunner"
)

var (
	sweepUser    string
	sweepInsight bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep [message]",
	Short: "Run the external agent analysis sweep on one message",
	Long: `Spawns one agent process per analysis task (memory retrieval, emotion
classification, intent recognition and, with --insight, insight generation)
and prints the typed results as JSON. Failed tasks are listed under "errors".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile(false)
		if err != nil {
			return err
		}
		runner := taskrunner.NewProcessRunner(runnerConfig(p))
		message := strings.Join(args, " ")
		result := runner.ProcessSweep(cmd.Context(), sweepUser, sweepUser, message, sweepInsight || p.InsightTask)
		return writeSweep(cmd.OutOrStdout(), result)
	},
}

func init() {
	sweepCmd.Flags().StringVarP(&sweepUser, "user", "u", "local", "user id the sweep runs for")
	sweepCmd.Flags().BoolVar(&sweepInsight, "insight", false, "include the insight generation task")
}

// sweepOutput is the printed form of a SweepResult.
type sweepOutput struct {
	*taskrunner.SweepResult
	LatencyMs int64             `json:"latency_ms"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func writeSweep(w io.Writer, result *taskrunner.SweepResult) error {
	out := sweepOutput{SweepResult: result, LatencyMs: result.Latency.Milliseconds()}
	if len(result.Errors) > 0 {
		out.Errors = make(map[string]string, len(result.Errors))
		for taskType, err := range result.Errors {
			out.Errors[string(taskType)] = err.Error()
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

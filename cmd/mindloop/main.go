package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hrygo/mindloop/internal/profile"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	v = profile.NewViper()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mindloop",
	Short: "mindloop - a conversational companion with memory",
	Long: `mindloop runs each conversational turn through a fixed pipeline:
  1. Receiving: load the user's session
  2. Unconscious: assemble associations, emotion and intent
  3. Integrating: build the mindstate
  4. Conscious: generate the response
  5. Responding / Remembering: commit the turn and persist it

Run "mindloop chat" for an interactive session or "mindloop serve" for the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := profile.LoadDotEnv(); err != nil {
			return err
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

// flagBindings maps viper keys to persistent flags.
var flagBindings = map[string]string{
	"llm.model":               "llm-model",
	"llm.base_url":            "llm-base-url",
	"memory.base_url":         "memory-url",
	"session.driver":          "session-driver",
	"session.dsn":             "session-dsn",
	"session.serialize_turns": "serialize-turns",
	"agent.deep_sweep":        "deep-sweep",
	"agent.command":           "agent-command",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.String("llm-model", "", "generation model")
	pf.String("llm-base-url", "", "OpenAI-compatible API base URL")
	pf.String("memory-url", "", "memory service base URL (empty disables it)")
	pf.String("session-driver", "", "session store driver: memory or sqlite")
	pf.String("session-dsn", "", "sqlite database path")
	pf.Bool("serialize-turns", true, "serialize turns of the same user")
	pf.Bool("deep-sweep", false, "run the external agent analysis sweep")
	pf.String("agent-command", "", "external agent executable")
	mustBindFlags(v, pf)

	rootCmd.AddCommand(chatCmd, serveCmd, sweepCmd)
}

func mustBindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	for key, name := range flagBindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

// loadProfile reads and validates the profile. requireLLM also checks the
// generation settings.
func loadProfile(requireLLM bool) (*profile.Profile, error) {
	p, err := profile.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if requireLLM {
		if err := p.ValidateLLM(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hrygo/mindloop/plugin/ai/pipeline"
)

var (
	chatUser  string
	chatDebug bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Reads one message per line and streams the response.

Commands:
  /clear   forget the current session
  /debug   toggle per-turn debug metrics
  /quit    exit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile(true)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), p, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		return runChat(cmd.Context(), a.pipeline, os.Stdin, cmd.OutOrStdout(), chatUser, chatDebug)
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "local", "user id of this conversation")
	chatCmd.Flags().BoolVar(&chatDebug, "debug", false, "print per-turn debug metrics")
}

// runChat runs the REPL until in is exhausted, /quit is read or ctx is done.
func runChat(ctx context.Context, pl *pipeline.Pipeline, in io.Reader, out io.Writer, userID string, debug bool) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/clear":
			if err := pl.ClearSession(ctx, userID); err != nil {
				fmt.Fprintf(out, "clear failed: %v\n", err)
			} else {
				fmt.Fprintln(out, "(session cleared)")
			}
		case "/debug":
			debug = !debug
			fmt.Fprintf(out, "(debug %s)\n", map[bool]string{true: "on", false: "off"}[debug])
		default:
			streamTurn(ctx, pl, out, line, userID, debug)
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func streamTurn(ctx context.Context, pl *pipeline.Pipeline, out io.Writer, message, userID string, debug bool) {
	for ev := range pl.ChatStream(ctx, message, pipeline.ChatOptions{UserID: userID, Debug: debug}) {
		switch ev.Type {
		case pipeline.EventToken:
			fmt.Fprint(out, ev.Token)
		case pipeline.EventError:
			fmt.Fprintf(out, "\n[error] %v\n", ev.Err)
		case pipeline.EventDone:
			fmt.Fprintln(out)
			if debug && ev.Turn != nil && ev.Turn.Debug != nil {
				data, _ := json.Marshal(ev.Turn.Debug)
				fmt.Fprintf(out, "[debug] %s\n", data)
			}
		}
	}
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by all commands.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mcpflow",
		Short: "Run LLM workflows over MCP tool servers",
		Long: `mcpflow orchestrates conversations between an LLM and MCP tool servers.
Workflows are defined in a YAML config file; each workflow names a model,
the servers it may use, an instruction template, and a turn budget.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.logLevel)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: ./mcpflow.yaml, then user config dir)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "user", "console verbosity: quiet, user, normal, verbose")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newWorkflowsCmd(opts))
	cmd.AddCommand(newServersCmd(opts))
	cmd.AddCommand(newModelsCmd())

	return cmd
}

// setupLogging maps the console verbosity onto slog levels and installs the
// default logger. quiet and user suppress the structured log so only the
// progress stream reaches the terminal.
func setupLogging(level string) error {
	var slogLevel slog.Level
	out := io.Writer(os.Stderr)

	switch level {
	case "quiet":
		out = io.Discard
	case "user":
		slogLevel = slog.LevelWarn
	case "normal":
		slogLevel = slog.LevelInfo
	case "verbose":
		slogLevel = slog.LevelDebug
	default:
		return fmt.Errorf("unknown log level %q (want quiet, user, normal, or verbose)", level)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
	return nil
}

// showProgress reports whether the per-turn progress stream should print.
func showProgress(level string) bool {
	return level != "quiet"
}

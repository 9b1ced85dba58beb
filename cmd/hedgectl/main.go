package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot(&GlobalFlags{})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, "hedgectl:", err)
		return 1
	}
	return 0
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot(flags *GlobalFlags) *cobra.Command {
	c := command{flags: flags}
	root := createRootCommand(flags)
	root.AddCommand(
		createStartCommand(c),
		createStopCommand(c),
		createStatusCommand(c),
		createLogsCommand(c),
		createRestartCommand(c),
	)
	return root
}

// createRootCommand prints usage and fails when no known command is given.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "hedgectl",
		Short: "Supervise the Hedge Scheduler worker",
		Long: `hedgectl starts, stops and inspects a single detached worker process
(the Hedge Scheduler fetcher by default). The worker pid is kept in a state
file next to the worker, and its output is appended to a log file.

Examples:
  hedgectl start
  hedgectl status
  hedgectl logs
  hedgectl --config /etc/hedge/hedgectl.toml restart`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			if len(args) > 0 {
				return fmt.Errorf("unknown command %q", args[0])
			}
			return fmt.Errorf("a command is required")
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (default ./hedgectl.toml if present)")
	return root
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/hedgectl"
)

type command struct {
	flags *GlobalFlags
}

// withSupervisor loads configuration, opens a supervisor for the duration of
// fn and closes it afterwards.
func (c command) withSupervisor(cmd *cobra.Command, fn func(context.Context, *hedgectl.Supervisor) error) error {
	cfg, err := hedgectl.LoadConfig(c.flags.ConfigPath)
	if err != nil {
		return err
	}
	sup, err := hedgectl.Open(cfg, cmd.ErrOrStderr(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sup.Close(); cerr != nil {
			sup.Logger().Warn("close", "error", cerr)
		}
	}()
	return fn(cmd.Context(), sup)
}

func createStartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the worker unless it is already running",
		Long: `Start launches the worker detached from the terminal and records its pid.
A stale state file left by a dead worker is removed first.

Exit status is 1 when the worker is already running, no interpreter is
found or the worker dies within the start grace period.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSupervisor(cmd, func(ctx context.Context, sup *hedgectl.Supervisor) error {
				_, err := sup.Start(ctx)
				return err
			})
		},
	}
}

func createStopCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the worker, forcing it after the stop timeout",
		Long: `Stop asks the worker to terminate and waits up to stop_timeout for it to
exit before killing it. Exit status is 1 when no worker is running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSupervisor(cmd, func(ctx context.Context, sup *hedgectl.Supervisor) error {
				return sup.Stop(ctx)
			})
		},
	}
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the worker is running",
		Long: `Status prints the worker pid, start time and command line when it runs,
and removes a stale state file otherwise. It always exits 0 once the
configuration has loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSupervisor(cmd, func(ctx context.Context, sup *hedgectl.Supervisor) error {
				if _, err := sup.Status(ctx); err != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "status unknown: %v\n", err)
				}
				return nil
			})
		},
	}
}

func createLogsCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print the last lines of the worker log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSupervisor(cmd, func(ctx context.Context, sup *hedgectl.Supervisor) error {
				return sup.Logs(ctx)
			})
		},
	}
}

func createRestartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop the worker if running, pause, then start it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSupervisor(cmd, func(ctx context.Context, sup *hedgectl.Supervisor) error {
				_, err := sup.Restart(ctx)
				return err
			})
		},
	}
}

// Command timesheet records Jira worklogs from the terminal and keeps a local
// cache of them for fast reporting.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timesheet-dev/timesheet/internal/sync"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// Exit codes
const (
	exitOK            = 0
	exitError         = 1
	exitBadInput      = 2
	exitAuth          = 3
	exitNothingToSync = 4
)

var (
	configPath string
	verbose    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "timesheet",
	Short: "Log work in Jira and report on it from a local cache",
	Long: `timesheet adds, edits and deletes Jira worklogs, runs a stopwatch that
becomes a worklog when stopped, and keeps a local SQLite cache of worklogs so
status reports work offline.

Run 'timesheet config update' first, then 'timesheet sync' to fill the cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "worklog", Title: "Worklogs:"},
		&cobra.Group{ID: "timer", Title: "Timer:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/timesheet/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "also write log output to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, sync.ErrNothingToSync):
		return exitNothingToSync
	case errors.Is(err, types.ErrAuth):
		return exitAuth
	case errors.Is(err, types.ErrBadInput):
		return exitBadInput
	default:
		return exitError
	}
}

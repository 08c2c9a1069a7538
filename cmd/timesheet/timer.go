package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/timesheet-dev/timesheet/internal/timeutil"
	"github.com/timesheet-dev/timesheet/internal/types"
	"github.com/timesheet-dev/timesheet/internal/ui"
)

var startCmd = &cobra.Command{
	Use:     "start ISSUE [--at TIME] [-c COMMENT]",
	GroupID: "timer",
	Short:   "Start a timer on an issue",
	Long: `Start a stopwatch on a Jira issue. Only one timer can run at a time.

Stopping the timer turns it into a worklog. Timers shorter than one minute
cannot be stopped; discard them with 'timesheet stop --discard'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := types.NewIssueKey(args[0])
		if err != nil {
			return err
		}
		startAt, err := timeFlag(cmd, "at")
		if err != nil {
			return err
		}
		comment, _ := cmd.Flags().GetString("comment")

		a, err := newApp(cmd.Context(), appOptions{jira: true})
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.timers().Start(cmd.Context(), key, startAt, comment)
		if errors.Is(err, types.ErrActiveTimerExists) {
			a.out.ActiveTimer(t, time.Now())
			return err
		}
		if err != nil {
			return err
		}
		a.out.Success("Started timer on %s at %s", t.IssueKey, t.StartedAt.Local().Format("15:04"))
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:     "stop [--at TIME] [-c COMMENT] [--discard]",
	GroupID: "timer",
	Short:   "Stop the running timer and log its time",
	Long: `Stop the running timer and add its time to the issue as a worklog.

If Jira cannot be reached the timer stays stopped locally and is submitted by
'timesheet timer sync' or the sync daemon.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stopAt, err := timeFlag(cmd, "at")
		if err != nil {
			return err
		}
		comment, _ := cmd.Flags().GetString("comment")
		discard, _ := cmd.Flags().GetBool("discard")

		a, err := newApp(cmd.Context(), appOptions{jira: !discard})
		if err != nil {
			return err
		}
		defer a.Close()

		if discard {
			t, err := a.timers().Discard(cmd.Context())
			if err != nil {
				return err
			}
			a.out.Success("Discarded timer on %s (%s)", t.IssueKey, ui.FormatElapsed(t.Elapsed(time.Now())))
			return nil
		}

		t, wl, err := a.timers().Stop(cmd.Context(), stopAt, comment)
		switch {
		case errors.Is(err, types.ErrTimerTooShort):
			a.out.ActiveTimer(t, time.Now())
			return err
		case err != nil && t.ID != 0:
			a.out.Warn("Timer on %s stopped after %s but not submitted; run 'timesheet timer sync' later",
				t.IssueKey, ui.FormatElapsed(t.Elapsed(time.Now())))
			return err
		case err != nil:
			return err
		}
		a.out.Success("Logged %s on %s (worklog %s)", timeutil.FormatSeconds(wl.TimeSpentSeconds), wl.IssueKey, wl.ID)
		return nil
	},
}

var timerCmd = &cobra.Command{
	Use:     "timer",
	GroupID: "timer",
	Short:   "Inspect and submit timers",
}

var timerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent timers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		timers, err := a.timers().Recent(cmd.Context())
		if err != nil {
			return err
		}
		a.out.Timers(timers, time.Now())
		return nil
	},
}

var timerSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Submit stopped timers that never reached Jira",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{jira: true})
		if err != nil {
			return err
		}
		defer a.Close()

		synced, err := a.timers().SyncPending(cmd.Context())
		for _, t := range synced {
			a.out.Success("Submitted timer %d on %s (%s)", t.ID, t.IssueKey, ui.FormatElapsed(t.Elapsed(time.Now())))
		}
		if err != nil {
			return err
		}
		if len(synced) == 0 {
			a.out.Muted("No timers to submit")
		}
		return nil
	},
}

// timeFlag parses a date/time flag; an unset flag yields the zero time.
func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, nil
	}
	return timeutil.ParseDateTime(raw, time.Now())
}

func init() {
	startCmd.Flags().String("at", "", "start time (default: now)")
	startCmd.Flags().StringP("comment", "c", "", "worklog comment")

	stopCmd.Flags().String("at", "", "stop time (default: now)")
	stopCmd.Flags().StringP("comment", "c", "", "replace the timer's comment")
	stopCmd.Flags().Bool("discard", false, "delete the timer without logging it")

	timerCmd.AddCommand(timerListCmd, timerSyncCmd)
	rootCmd.AddCommand(startCmd, stopCmd, timerCmd)
}

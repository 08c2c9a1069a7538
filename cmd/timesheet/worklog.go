package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/timesheet-dev/timesheet/internal/jira"
	"github.com/timesheet-dev/timesheet/internal/timeutil"
	"github.com/timesheet-dev/timesheet/internal/types"
	"github.com/timesheet-dev/timesheet/internal/worklog"
)

var addCmd = &cobra.Command{
	Use:     "add ISSUE DURATION... [-s START] [-c COMMENT]",
	GroupID: "worklog",
	Short:   "Add a worklog to an issue",
	Long: `Add time to a Jira issue.

DURATION is either one duration or one or more weekday durations:
  1h30m, 7,5h, 1d, 1w2d3h30m     one entry ending now (or starting at --started)
  mon:4h tue:3,5h                one entry per day, starting 08:00 on the most
                                 recent such weekday

Days and weeks follow the Jira time-tracking settings (hours per day, days per
week). No entry may end in the future.

Examples:
  timesheet add TIME-12 1h30m -c "sprint planning"
  timesheet add TIME-12 2h -s "yesterday 13:00"
  timesheet add TIME-40 mon:7,5h tue:7,5h`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		started, _ := cmd.Flags().GetString("started")
		comment, _ := cmd.Flags().GetString("comment")

		key, err := types.NewIssueKey(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), appOptions{jira: true})
		if err != nil {
			return err
		}
		defer a.Close()

		added, err := a.worklogs().Add(cmd.Context(), worklog.AddRequest{
			IssueKey:  key,
			Durations: args[1:],
			Started:   started,
			Comment:   comment,
		})
		for _, wl := range added {
			a.out.Success("Added %s to %s starting %s (worklog %s)",
				timeutil.FormatSeconds(wl.TimeSpentSeconds), wl.IssueKey,
				wl.Started.Local().Format("Mon 2006-01-02 15:04"), wl.ID)
		}
		return err
	},
}

var delCmd = &cobra.Command{
	Use:     "del WORKLOG_ID...",
	Aliases: []string{"delete", "rm"},
	GroupID: "worklog",
	Short:   "Delete your worklogs",
	Long: `Delete worklogs from Jira and the local cache.

Only worklogs authored by the configured user can be deleted. The worklog must
be in the cache; run 'timesheet sync' if it is not. If Jira cannot be reached
the local entry is kept and the deletion is retried by the next sync.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{jira: true})
		if err != nil {
			return err
		}
		defer a.Close()

		guard := a.guard()
		var errs []error
		for _, id := range args {
			wl, err := a.store.FindWorklog(cmd.Context(), id)
			if err != nil {
				errs = append(errs, notCached(id, err))
				continue
			}
			if err := guard.Delete(cmd.Context(), wl.IssueKey, id); err != nil {
				errs = append(errs, fmt.Errorf("worklog %s: %w", id, err))
				continue
			}
			a.out.Success("Deleted worklog %s (%s on %s)", id, timeutil.FormatSeconds(wl.TimeSpentSeconds), wl.IssueKey)
		}
		return errors.Join(errs...)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit WORKLOG_ID [-d DURATION] [-s START] [-c COMMENT]",
	GroupID: "worklog",
	Short:   "Change one of your worklogs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		var upd jira.WorklogUpdate

		a, err := newApp(cmd.Context(), appOptions{jira: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if cmd.Flags().Changed("duration") {
			d, _ := cmd.Flags().GetString("duration")
			tt, err := a.client.TimeTracking(cmd.Context())
			if err != nil {
				return err
			}
			spent, err := timeutil.ParseDuration(d, tt)
			if err != nil {
				return err
			}
			upd.TimeSpentSeconds = &spent.Seconds
		}
		if cmd.Flags().Changed("started") {
			s, _ := cmd.Flags().GetString("started")
			start, err := timeutil.ParseDateTime(s, time.Now())
			if err != nil {
				return err
			}
			upd.Started = &start
		}
		if cmd.Flags().Changed("comment") {
			c, _ := cmd.Flags().GetString("comment")
			upd.Comment = &c
		}
		if upd.Started == nil && upd.TimeSpentSeconds == nil && upd.Comment == nil {
			return types.Wrap(types.ErrBadInput, "edit worklog", id, errors.New("nothing to change; use --duration, --started or --comment"))
		}

		wl, err := a.store.FindWorklog(cmd.Context(), id)
		if err != nil {
			return notCached(id, err)
		}
		updated, err := a.guard().Update(cmd.Context(), wl.IssueKey, id, upd)
		if err != nil {
			return err
		}
		a.out.Success("Updated worklog %s on %s: %s from %s", id, updated.IssueKey,
			timeutil.FormatSeconds(updated.TimeSpentSeconds), updated.Started.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status [--since DATE] [--issues KEY,...] [--all-users]",
	GroupID: "worklog",
	Short:   "Show cached worklogs",
	Long: `List worklogs from the local cache, grouped by day with daily totals.

By default shows your own worklogs of the last 30 days (--since accepts a
date, a date-time or phrases like "last monday"; --week starts at Monday of
the current week). Run 'timesheet sync' to refresh the cache.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceFlag, _ := cmd.Flags().GetString("since")
		week, _ := cmd.Flags().GetBool("week")
		rawKeys, _ := cmd.Flags().GetStringSlice("issues")
		allUsers, _ := cmd.Flags().GetBool("all-users")

		now := time.Now()
		since := now.AddDate(0, 0, -30)
		switch {
		case week:
			since = timeutil.StartOfWeek(now)
		case sinceFlag != "":
			s, err := timeutil.ParseDateTime(sinceFlag, now)
			if err != nil {
				return err
			}
			since = s
		}
		keys, err := types.ParseIssueKeys(rawKeys)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		svc := worklog.New(a.store, nil, worklog.Config{Logger: a.logger("worklog")})
		wls, err := svc.Status(cmd.Context(), worklog.StatusRequest{Since: since, IssueKeys: keys, AllUsers: allUsers})
		if err != nil {
			return err
		}

		summaries := make(map[types.IssueKey]string)
		if len(wls) > 0 {
			var issueKeys []types.IssueKey
			for _, wl := range wls {
				if _, ok := summaries[wl.IssueKey]; !ok {
					summaries[wl.IssueKey] = ""
					issueKeys = append(issueKeys, wl.IssueKey)
				}
			}
			issues, err := a.store.FindIssues(cmd.Context(), issueKeys)
			if err != nil {
				return err
			}
			for _, is := range issues {
				summaries[is.Key] = is.Summary
			}
		}

		a.out.Muted("Worklogs since %s", since.Format("Mon 2006-01-02 15:04"))
		a.out.Worklogs(wls, summaries)

		if active, err := a.store.ActiveTimer(cmd.Context()); err == nil {
			a.out.ActiveTimer(active, now)
		} else if !errors.Is(err, types.ErrNoActiveTimer) {
			return err
		}
		return nil
	},
}

func notCached(id string, err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("worklog %s is not in the cache, run 'timesheet sync' first: %w", id, err)
	}
	return err
}

func init() {
	addCmd.Flags().StringP("started", "s", "", "start date/time (default: now minus the duration)")
	addCmd.Flags().StringP("comment", "c", "", "worklog comment")

	editCmd.Flags().StringP("duration", "d", "", "new duration")
	editCmd.Flags().StringP("started", "s", "", "new start date/time")
	editCmd.Flags().StringP("comment", "c", "", "new comment")

	statusCmd.Flags().String("since", "", "show worklogs started at or after this date")
	statusCmd.Flags().BoolP("week", "w", false, "show the current week")
	statusCmd.Flags().StringSlice("issues", nil, "only these issues")
	statusCmd.Flags().Bool("all-users", false, "include other users' worklogs")

	rootCmd.AddCommand(addCmd, delCmd, editCmd, statusCmd)
}

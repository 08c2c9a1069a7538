package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/timesheet-dev/timesheet/internal/cache"
	"github.com/timesheet-dev/timesheet/internal/cache/loadtest"
	"github.com/timesheet-dev/timesheet/internal/jira"
	"github.com/timesheet-dev/timesheet/internal/remote"
	"github.com/timesheet-dev/timesheet/internal/types"
)

var codesCmd = &cobra.Command{
	Use:     "codes [--project KEY]",
	GroupID: "worklog",
	Short:   "List the issues time can be logged to",
	Long: `List the issues of the tracking project (or --project) and store them in
the cache so later syncs include them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{jira: true})
		if err != nil {
			return err
		}
		defer a.Close()

		project := a.cfg.TrackingProject
		if cmd.Flags().Changed("project") {
			project, _ = cmd.Flags().GetString("project")
		}
		project = strings.ToUpper(strings.TrimSpace(project))
		if project == "" {
			return types.Wrap(types.ErrBadInput, "list codes", "",
				errors.New("no tracking project; pass --project or run 'timesheet config update --project KEY'"))
		}

		fetcher := remote.NewWithConfig(a.client, remote.Config{Logger: a.logger("remote")})
		issues, err := remote.Collect(fetcher.Issues(cmd.Context(), jira.IssuesJQL([]string{project}, nil)))
		if err != nil {
			return err
		}
		if err := a.store.AddIssues(cmd.Context(), issues); err != nil {
			return err
		}
		a.out.Issues(issues)
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:     "cache",
	GroupID: "setup",
	Short:   "Inspect or clear the local cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cache location and row counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		a.out.KeyValues([][2]string{
			{"Path", a.store.Path()},
			{"Issues", fmt.Sprint(stats.Issues)},
			{"Components", fmt.Sprint(stats.Components)},
			{"Worklogs", fmt.Sprint(stats.Worklogs)},
			{"Users", fmt.Sprint(stats.Users)},
			{"Timers", fmt.Sprint(stats.Timers)},
			{"Pending deletions", fmt.Sprint(stats.Pending)},
		})
		if stats.Pending > 0 {
			a.out.Warn("%d deletions have not reached Jira yet; the next sync retries them", stats.Pending)
		}
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every cached issue and worklog",
	Long: `Empty the cache. Everything except timers can be rebuilt with
'timesheet sync --projects KEY' or 'timesheet codes'.

Refused while deletions are pending or a timer has not been submitted, unless
--force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if !force {
			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			unsynced, err := a.store.UnsyncedTimers(cmd.Context(), time.Time{})
			if err != nil {
				return err
			}
			if stats.Pending > 0 || len(unsynced) > 0 {
				return types.Wrap(types.ErrBadInput, "purge cache", a.store.Path(),
					fmt.Errorf("%d pending deletions and %d unsubmitted timers would be lost; pass --force to purge anyway",
						stats.Pending, len(unsynced)))
			}
		}

		if err := a.store.Purge(cmd.Context()); err != nil {
			return err
		}
		a.out.Success("Purged %s", a.store.Path())
		return nil
	},
}

var cacheBenchCmd = &cobra.Command{
	Use:   "bench [--issues N] [--worklogs N] [--readers N]",
	Short: "Measure cache query latency on synthetic data",
	Long: `Fill a temporary cache with synthetic worklogs, run status queries from
--readers goroutines and print the latency distribution. Then run the same
readers next to a writer for --duration and check every row they read.

Your own cache is not touched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		issues, _ := cmd.Flags().GetInt("issues")
		perIssue, _ := cmd.Flags().GetInt("worklogs")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		duration, _ := cmd.Flags().GetDuration("duration")
		ctx := cmd.Context()
		out := newOutput()

		dir, err := os.MkdirTemp("", "timesheet-bench-")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		store, err := cache.Open(ctx, filepath.Join(dir, "bench.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		start := time.Now()
		ds, err := loadtest.Populate(ctx, store, issues, perIssue)
		if err != nil {
			return err
		}
		out.Muted("Populated %d issues with %d worklogs in %s", len(ds.IssueKeys), ds.Worklogs, time.Since(start).Round(time.Millisecond))

		stats, err := ds.RunConcurrentQueries(ctx, readers, queries)
		if stats != nil {
			stats.Print(out.Writer())
		}
		if err != nil {
			return err
		}

		writes, err := ds.VerifyConsistency(ctx, readers, duration)
		if err != nil {
			return err
		}
		out.Success("%d readers saw consistent rows during %d writes", readers, writes)
		return nil
	},
}

func init() {
	codesCmd.Flags().StringP("project", "p", "", "project key (default: tracking_project)")

	cachePurgeCmd.Flags().Bool("force", false, "purge even if local changes would be lost")

	cacheBenchCmd.Flags().Int("issues", 500, "number of synthetic issues")
	cacheBenchCmd.Flags().Int("worklogs", 40, "worklogs per issue")
	cacheBenchCmd.Flags().Int("readers", 50, "concurrent readers")
	cacheBenchCmd.Flags().Int("queries", 20, "queries per reader")
	cacheBenchCmd.Flags().Duration("duration", 2*time.Second, "length of the read/write run")

	cacheCmd.AddCommand(cacheInfoCmd, cachePurgeCmd, cacheBenchCmd)
	rootCmd.AddCommand(codesCmd, cacheCmd)
}

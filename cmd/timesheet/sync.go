package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/timesheet-dev/timesheet/internal/config"
	"github.com/timesheet-dev/timesheet/internal/daemon"
	"github.com/timesheet-dev/timesheet/internal/dashboard"
	"github.com/timesheet-dev/timesheet/internal/sync"
	"github.com/timesheet-dev/timesheet/internal/timeutil"
	"github.com/timesheet-dev/timesheet/internal/types"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Copy worklogs from Jira into the local cache",
	Long: `Fetch worklogs started since --started (default: 30 days ago) and store them
in the local cache. Running sync twice in a row changes nothing the second
time.

Which issues are synchronized:
  --issues KEY,...     these issues
  --projects KEY,...   every issue of these projects
  (neither)            every issue already in the cache

Only your own worklogs are kept unless --all-users is given. With --prune,
cached worklogs in the window that Jira no longer returns are removed.

With --watch the sync repeats every --interval until interrupted, and the
config file is watched for changes.

Exit status 4 means there was nothing to synchronize: the cache is empty and
neither --issues nor --projects was given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := syncRequest(cmd)
		if err != nil {
			return err
		}
		watch, _ := cmd.Flags().GetBool("watch")

		a, err := newApp(cmd.Context(), appOptions{jira: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if watch {
			d, err := newDaemon(a, cmd, req, nil)
			if err != nil {
				return err
			}
			a.out.Muted("Synchronizing every %s, press Ctrl+C to stop", a.cfg.SyncInterval())
			return d.Start(cmd.Context())
		}

		start := time.Now()
		sum, err := a.synchronizer().Synchronize(cmd.Context(), req)
		if err != nil {
			return err
		}
		printSummary(a, sum, time.Since(start))
		return sum.Err()
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the sync daemon with a live WebSocket feed",
	Long: `Run the sync daemon in the foreground and serve its events over WebSocket.

Endpoints:
  ws://HOST:PORT/ws       JSON messages: sync_complete, sync_failed,
                          timers_synced, config_changed, stats
  http://HOST:PORT/health

Stopped timers that never reached Jira are submitted before every sync.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := syncRequest(cmd)
		if err != nil {
			return err
		}
		host, _ := cmd.Flags().GetString("host")

		a, err := newApp(cmd.Context(), appOptions{jira: true})
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		server := dashboard.NewServer(&dashboard.Config{
			Host:   host,
			Port:   port,
			Logger: a.logger("dashboard"),
		})
		handler := dashboard.NewHandler(server, a.store, a.logger("dashboard"))

		d, err := newDaemon(a, cmd, req, handler)
		if err != nil {
			return err
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return server.Run(ctx) })
		g.Go(func() error {
			if err := handler.RefreshStats(ctx); err != nil {
				a.logger("dashboard").Printf("WARNING: Failed to read cache stats: %v", err)
			}
			return d.Start(ctx)
		})

		a.out.Success("Serving on ws://%s/ws", fmt.Sprintf("%s:%d", host, port))
		a.out.Muted("Press Ctrl+C to stop")
		return g.Wait()
	},
}

func syncRequest(cmd *cobra.Command) (sync.Request, error) {
	var req sync.Request
	if started, _ := cmd.Flags().GetString("started"); started != "" {
		since, err := timeutil.ParseDateTime(started, time.Now())
		if err != nil {
			return req, err
		}
		req.Since = since
	}
	rawKeys, _ := cmd.Flags().GetStringSlice("issues")
	keys, err := types.ParseIssueKeys(rawKeys)
	if err != nil {
		return req, err
	}
	req.IssueKeys = keys

	projects, _ := cmd.Flags().GetStringSlice("projects")
	for _, p := range projects {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			req.Projects = append(req.Projects, p)
		}
	}
	req.AllUsers, _ = cmd.Flags().GetBool("all-users")
	req.Prune, _ = cmd.Flags().GetBool("prune")
	return req, nil
}

func newDaemon(a *app, cmd *cobra.Command, req sync.Request, listener daemon.Listener) (*daemon.Daemon, error) {
	interval := a.cfg.SyncInterval()
	if cmd.Flags().Changed("interval") {
		interval, _ = cmd.Flags().GetDuration("interval")
	}

	cfg := daemon.DefaultConfig()
	cfg.SyncInterval = interval
	cfg.Request = req
	if _, err := os.Stat(a.cfg.Path()); err == nil {
		cfg.ConfigPath = a.cfg.Path()
	}
	cfg.Logger = a.logger("daemon")
	cfg.Reload = func() (time.Duration, error) {
		reloaded, err := config.Load(a.cfg.Path())
		if err != nil {
			return 0, err
		}
		if cmd.Flags().Changed("interval") {
			return 0, nil
		}
		return reloaded.SyncInterval(), nil
	}
	if listener != nil {
		cfg.Listener = listener
	}
	return daemon.NewWithConfig(a.synchronizer(), a.timers(), cfg)
}

func printSummary(a *app, sum sync.Summary, took time.Duration) {
	a.out.Success("Sync complete in %s", took.Round(time.Millisecond))
	a.out.KeyValues([][2]string{
		{"Window", sum.Since.Local().Format("2006-01-02 15:04") + " to " + sum.Until.Local().Format("2006-01-02 15:04")},
		{"User", sum.User.DisplayName},
		{"Issues", fmt.Sprint(sum.Issues)},
		{"Fetched", fmt.Sprint(sum.Fetched)},
		{"Inserted", fmt.Sprint(sum.Inserted)},
		{"Updated", fmt.Sprint(sum.Updated)},
		{"Unchanged", fmt.Sprint(sum.Unchanged)},
		{"Skipped", fmt.Sprint(sum.Skipped)},
		{"Pruned", fmt.Sprint(sum.Pruned)},
	})
	if sum.Recovered > 0 {
		a.out.Muted("Completed %d interrupted deletions", sum.Recovered)
	}
	for _, f := range sum.Failures {
		a.out.Warn("%v", f)
	}
}

func addSyncFlags(cmd *cobra.Command) {
	cmd.Flags().String("started", "", "fetch worklogs started at or after this date (default: 30 days ago)")
	cmd.Flags().StringSlice("issues", nil, "synchronize these issues")
	cmd.Flags().StringSlice("projects", nil, "synchronize every issue of these projects")
	cmd.Flags().Bool("all-users", false, "keep worklogs of every author")
	cmd.Flags().Bool("prune", false, "remove cached worklogs that Jira no longer returns")
	cmd.Flags().Duration("interval", 0, "time between syncs (default from config, 15m)")
}

func init() {
	addSyncFlags(syncCmd)
	syncCmd.Flags().Bool("watch", false, "keep synchronizing every --interval")

	addSyncFlags(serveCmd)
	serveCmd.Flags().String("host", "127.0.0.1", "address to bind")
	serveCmd.Flags().IntP("port", "p", 8090, "port to listen on (default from config)")

	rootCmd.AddCommand(syncCmd, serveCmd)
}

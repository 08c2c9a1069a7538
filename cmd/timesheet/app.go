package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/timesheet-dev/timesheet/internal/cache"
	"github.com/timesheet-dev/timesheet/internal/config"
	"github.com/timesheet-dev/timesheet/internal/jira"
	"github.com/timesheet-dev/timesheet/internal/logging"
	"github.com/timesheet-dev/timesheet/internal/ownership"
	"github.com/timesheet-dev/timesheet/internal/remote"
	"github.com/timesheet-dev/timesheet/internal/sync"
	"github.com/timesheet-dev/timesheet/internal/timer"
	"github.com/timesheet-dev/timesheet/internal/ui"
	"github.com/timesheet-dev/timesheet/internal/worklog"
)

// app holds what a command needs: configuration, logging, the cache and,
// for commands that talk to Jira, the client.
type app struct {
	cfg    *config.Config
	logs   *logging.Logging
	store  *cache.Store
	client *jira.Client
	out    *ui.UI
}

type appOptions struct {
	// jira requires credentials and builds a client
	jira bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if opts.jira {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	lc := logging.DefaultConfig(cfg.Log.File)
	lc.Verbose = verbose
	logs, err := logging.New(lc)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:  cfg,
		logs: logs,
		out:  newOutput(),
	}

	store, err := cache.Open(ctx, cfg.Database)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("failed to open cache %s: %w", cfg.Database, err)
	}
	a.store = store

	if opts.jira {
		jc := cfg.JiraClient()
		jc.Logger = a.logger("jira")
		client, err := jira.New(jc)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.client = client
	}
	return a, nil
}

func (a *app) logger(component string) *log.Logger {
	return a.logs.Logger(component)
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger("cache").Printf("WARNING: Failed to close cache: %v", err)
		}
	}
	a.logs.Close()
}

func (a *app) guard() *ownership.Guard {
	return ownership.New(a.store, a.client, a.logger("ownership"))
}

func (a *app) synchronizer() *sync.Synchronizer {
	fetcher := remote.NewWithConfig(a.client, remote.Config{Logger: a.logger("remote")})
	return sync.New(a.store, fetcher, a.client, sync.Config{
		DefaultWindow: a.cfg.DefaultWindow(),
		Recoverer:     a.guard(),
		Logger:        a.logger("sync"),
	})
}

func (a *app) worklogs() *worklog.Service {
	return worklog.New(a.store, a.client, worklog.Config{Logger: a.logger("worklog")})
}

func (a *app) timers() *timer.Service {
	return timer.New(a.store, a.client, a.worklogs(), a.logger("timer"))
}

// newOutput returns the terminal writer, colored unless --no-color is set or
// stdout is not a terminal.
func newOutput() *ui.UI {
	return ui.New(os.Stdout, !noColor && term.IsTerminal(int(os.Stdout.Fd())))
}

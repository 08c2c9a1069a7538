// Package daemon keeps the local cache in step with Jira in the background.
//
// # Architecture
//
// The daemon consists of two components:
//
//   - Daemon: runs a sync immediately, then every SyncInterval, and again
//     whenever TriggerSync is called or the config file changes
//   - FileWatcher: fsnotify-based watcher for individual files
//
// Each run first submits stopped timers that never reached Jira and then
// synchronizes worklogs with the configured sync.Request.
//
// # Usage
//
//	cfg := daemon.DefaultConfig()
//	cfg.SyncInterval = 10 * time.Minute
//	cfg.ConfigPath = config.DefaultPath()
//	cfg.Reload = func() (time.Duration, error) {
//	    c, err := config.Load(cfg.ConfigPath)
//	    if err != nil {
//	        return 0, err
//	    }
//	    return c.SyncInterval(), nil
//	}
//
//	d, err := daemon.NewWithConfig(synchronizer, timers, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # File Watching
//
// FileWatcher watches the parent directory of each file so that editors
// which save by renaming over the original are still seen. Events on other
// files in the directory are dropped. fsnotify operations map as follows:
//   - fsnotify.Create → OpCreate
//   - fsnotify.Write → OpModify
//   - fsnotify.Remove, fsnotify.Rename → OpDelete
//
// Config file events are debounced: the reload runs once the file has been
// quiet for DebounceInterval, so a burst of writes from one save causes a
// single reload and a single sync.
//
// # Error Handling
//
// Network failures are logged and retried on the next tick. A sync that
// fails with a cache error (types.IsFatal) or rejected credentials
// (types.ErrAuth) stops the daemon, and Start returns that error.
// sync.ErrNothingToSync is not an error for the daemon: the cache simply
// has no issues yet.
//
// # Graceful Shutdown
//
// Cancelling the context passed to Start, or calling Stop, cancels the
// running sync, closes the watcher and waits for every goroutine to exit.
package daemon

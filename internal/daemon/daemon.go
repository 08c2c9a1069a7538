package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/timesheet-dev/timesheet/internal/sync"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// Syncer runs one synchronization. *sync.Synchronizer implements it.
type Syncer interface {
	Synchronize(ctx context.Context, req sync.Request) (sync.Summary, error)
}

// TimerSyncer submits stopped timers that never reached Jira.
// *timer.Service implements it.
type TimerSyncer interface {
	SyncPending(ctx context.Context) ([]types.Timer, error)
}

// Listener receives daemon events. *dashboard.Handler implements it.
type Listener interface {
	OnSyncComplete(sum sync.Summary, took time.Duration)
	OnSyncFailed(err error)
	OnTimersSynced(timers []types.Timer)
	OnConfigChanged(path string)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often a sync runs
	SyncInterval time.Duration

	// DebounceInterval is how long the config file must be quiet before a
	// change is acted on
	DebounceInterval time.Duration

	// Request is the template for every periodic sync
	Request sync.Request

	// ConfigPath is the config file to watch; empty disables watching
	ConfigPath string

	// Reload is called after the config file changed. It returns the new
	// sync interval, or zero to keep the current one.
	Reload func() (time.Duration, error)

	// Listener is notified of sync results; may be nil
	Listener Listener

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     15 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon runs periodic syncs until stopped.
type Daemon struct {
	syncer Syncer
	timers TimerSyncer
	config *Config

	watcher       *FileWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu gosync.Mutex

	trigger  chan struct{}
	interval chan time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       gosync.WaitGroup
	stopOnce gosync.Once

	errMu gosync.Mutex
	err   error
}

// New creates a daemon. timers may be nil.
func New(syncer Syncer, timers TimerSyncer) (*Daemon, error) {
	return NewWithConfig(syncer, timers, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, timers TimerSyncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %s", config.SyncInterval)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	var watcher *FileWatcher
	if config.ConfigPath != "" {
		w, err := NewFileWatcher()
		if err != nil {
			return nil, err
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:      syncer,
		timers:      timers,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		trigger:     make(chan struct{}, 1),
		interval:    make(chan time.Duration, 1),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon: an immediate sync, then one every SyncInterval,
// plus one whenever TriggerSync is called or the config file changes.
//
// This blocks until ctx is cancelled, Stop is called, or a sync fails with
// an error that retrying cannot fix (a broken cache or rejected
// credentials), which Start returns.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if d.watcher != nil {
		if err := d.watcher.Start(d.config.ConfigPath); err != nil {
			return fmt.Errorf("failed to watch config file: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", d.config.ConfigPath)

		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(1)
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
	case <-d.ctx.Done():
	}
	if err := d.Stop(); err != nil {
		return err
	}
	return d.fatalErr()
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if d.watcher != nil {
			if werr := d.watcher.Stop(); werr != nil {
				d.config.Logger.Printf("Error closing watcher: %v", werr)
				err = werr
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return err
}

// TriggerSync requests a sync as soon as the current one (if any) is done.
// Requests made while one is already pending are merged.
func (d *Daemon) TriggerSync() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// SetInterval changes the period of future syncs.
func (d *Daemon) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	select {
	case <-d.interval:
	default:
	}
	select {
	case d.interval <- interval:
	default:
	}
}

// RunOnce submits pending timers and then synchronizes worklogs.
func (d *Daemon) RunOnce(ctx context.Context) (sync.Summary, error) {
	if d.timers != nil {
		synced, err := d.timers.SyncPending(ctx)
		if len(synced) > 0 {
			d.config.Logger.Printf("Submitted %d pending timers", len(synced))
			if d.config.Listener != nil {
				d.config.Listener.OnTimersSynced(synced)
			}
		}
		if err != nil {
			d.config.Logger.Printf("WARNING: Failed to submit pending timers: %v", err)
		}
	}

	start := time.Now()
	sum, err := d.syncer.Synchronize(ctx, d.config.Request)
	took := time.Since(start)
	if err != nil {
		if d.config.Listener != nil {
			d.config.Listener.OnSyncFailed(err)
		}
		return sum, err
	}
	d.config.Logger.Printf("Sync complete in %s: %s", took.Round(time.Millisecond), sum)
	for _, f := range sum.Failures {
		d.config.Logger.Printf("WARNING: %v", f)
	}
	if d.config.Listener != nil {
		d.config.Listener.OnSyncComplete(sum, took)
	}
	return sum, nil
}

// syncLoop runs syncs on start, on every tick and on every trigger.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	d.runAndCheck()
	for {
		select {
		case <-d.ctx.Done():
			return

		case iv := <-d.interval:
			d.config.Logger.Printf("Sync interval set to %s", iv)
			ticker.Reset(iv)

		case <-ticker.C:
			d.runAndCheck()

		case <-d.trigger:
			d.runAndCheck()
		}
	}
}

func (d *Daemon) runAndCheck() {
	_, err := d.RunOnce(d.ctx)
	switch {
	case err == nil:
	case errors.Is(err, sync.ErrNothingToSync):
		d.config.Logger.Println("Nothing to sync yet")
	case d.ctx.Err() != nil:
	case types.IsFatal(err) || errors.Is(err, types.ErrAuth):
		d.config.Logger.Printf("Sync failed, stopping: %v", err)
		d.setFatal(err)
		d.cancel()
	default:
		d.config.Logger.Printf("Sync failed, will retry: %v", err)
	}
}

func (d *Daemon) setFatal(err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.err == nil {
		d.err = err
	}
}

func (d *Daemon) fatalErr() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

// watchFileEvents queues config file events.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Path)
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued file changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges reloads the configuration once every queued change
// has been quiet for DebounceInterval.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		d.config.Logger.Printf("Processing change: %s", path)
		if d.config.Reload != nil {
			iv, err := d.config.Reload()
			if err != nil {
				d.config.Logger.Printf("WARNING: Failed to reload config: %v", err)
				continue
			}
			d.SetInterval(iv)
		}
		if d.config.Listener != nil {
			d.config.Listener.OnConfigChanged(path)
		}
		d.TriggerSync()
	}
}

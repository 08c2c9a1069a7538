// Package timer runs the single local stopwatch that turns into a worklog
// when stopped.
package timer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/timesheet-dev/timesheet/internal/cache"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// MinDuration is the shortest timer Jira accepts as a worklog.
const MinDuration = time.Minute

// SyncWindow bounds how far back unsubmitted timers are retried.
const SyncWindow = 30 * 24 * time.Hour

// IssueLookup verifies that an issue exists in Jira. *jira.Client
// implements it.
type IssueLookup interface {
	Issue(ctx context.Context, key types.IssueKey) (types.Issue, error)
}

// Submitter turns a stopped timer into a Jira worklog. *worklog.Service
// implements it.
type Submitter interface {
	Submit(ctx context.Context, key types.IssueKey, started time.Time, seconds int, comment string) (types.LocalWorklog, error)
}

// Store is the part of the cache the timer service uses.
type Store interface {
	cache.TimerStore
	cache.IssueStore
}

// Service manages the timer.
type Service struct {
	store     Store
	issues    IssueLookup
	submitter Submitter
	now       func() time.Time
	logger    *log.Logger
}

// New creates a Service. If logger is nil, a default logger writing to
// stderr is used.
func New(store Store, issues IssueLookup, submitter Submitter, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[timer] ", log.LstdFlags)
	}
	return &Service{
		store:     store,
		issues:    issues,
		submitter: submitter,
		now:       time.Now,
		logger:    logger,
	}
}

// Start starts a timer on an issue. A zero startAt means now.
// Returns an error matching types.ErrNotFound if Jira does not know the
// issue and types.ErrActiveTimerExists if a timer is already running.
func (s *Service) Start(ctx context.Context, key types.IssueKey, startAt time.Time, comment string) (types.Timer, error) {
	if active, err := s.store.ActiveTimer(ctx); err == nil {
		return active, types.Wrap(types.ErrActiveTimerExists, "start timer", active.IssueKey.String(),
			fmt.Errorf("timer on %s running since %s", active.IssueKey, active.StartedAt.Format("15:04")))
	} else if !errors.Is(err, types.ErrNoActiveTimer) {
		return types.Timer{}, err
	}

	issue, err := s.issues.Issue(ctx, key)
	if err != nil {
		return types.Timer{}, fmt.Errorf("failed to look up %s: %w", key, err)
	}
	if err := s.store.AddIssues(ctx, []types.Issue{issue}); err != nil {
		return types.Timer{}, err
	}

	now := s.now()
	if startAt.IsZero() {
		startAt = now
	}
	if startAt.After(now) {
		return types.Timer{}, types.Wrap(types.ErrBadInput, "start timer", key.String(), errors.New("start time is in the future"))
	}

	t := types.Timer{
		IssueKey:  issue.Key,
		CreatedAt: now,
		StartedAt: startAt,
		Comment:   comment,
	}
	id, err := s.store.StartTimer(ctx, t)
	if err != nil {
		return types.Timer{}, err
	}
	t.ID = id
	s.logger.Printf("Started timer %d on %s", id, t.IssueKey)
	return t, nil
}

// Stop stops the running timer and submits it as a worklog. A zero stopAt
// means now; a non-empty comment replaces the timer's comment.
//
// A timer shorter than MinDuration is left running and an error matching
// types.ErrTimerTooShort is returned. If the submission fails the timer
// stays stopped but unsynced, and SyncPending retries it.
func (s *Service) Stop(ctx context.Context, stopAt time.Time, comment string) (types.Timer, *types.LocalWorklog, error) {
	active, err := s.store.ActiveTimer(ctx)
	if err != nil {
		return types.Timer{}, nil, err
	}
	if stopAt.IsZero() {
		stopAt = s.now()
	}
	if d := stopAt.Sub(active.StartedAt); d < MinDuration {
		return active, nil, types.Wrap(types.ErrTimerTooShort, "stop timer", active.IssueKey.String(),
			fmt.Errorf("ran for %s, minimum is %s", d.Round(time.Second), MinDuration))
	}

	stopped, err := s.store.StopTimer(ctx, stopAt, comment)
	if err != nil {
		return types.Timer{}, nil, err
	}
	s.logger.Printf("Stopped timer %d on %s after %s", stopped.ID, stopped.IssueKey, stopped.Elapsed(stopAt).Round(time.Second))

	wl, err := s.submit(ctx, stopped)
	if err != nil {
		return stopped, nil, err
	}
	stopped.Synced = true
	return stopped, &wl, nil
}

// Discard deletes the running timer without submitting it.
func (s *Service) Discard(ctx context.Context) (types.Timer, error) {
	active, err := s.store.ActiveTimer(ctx)
	if err != nil {
		return types.Timer{}, err
	}
	if err := s.store.DeleteTimer(ctx, active.ID); err != nil {
		return types.Timer{}, err
	}
	s.logger.Printf("Discarded timer %d on %s", active.ID, active.IssueKey)
	return active, nil
}

// Active returns the running timer.
// Returns an error matching types.ErrNoActiveTimer if none is running.
func (s *Service) Active(ctx context.Context) (types.Timer, error) {
	return s.store.ActiveTimer(ctx)
}

// Recent returns the timers started in the last SyncWindow, oldest first.
func (s *Service) Recent(ctx context.Context) ([]types.Timer, error) {
	return s.store.TimersAfter(ctx, s.now().Add(-SyncWindow))
}

// TotalForIssue sums the timers of an issue; a running timer counts up to
// now.
func (s *Service) TotalForIssue(ctx context.Context, key types.IssueKey) (time.Duration, error) {
	timers, err := s.store.TimersForIssue(ctx, key)
	if err != nil {
		return 0, err
	}
	now := s.now()
	var total time.Duration
	for _, t := range timers {
		total += t.Elapsed(now)
	}
	return total, nil
}

// SyncPending submits stopped timers of the last SyncWindow that were never
// submitted. Timers shorter than MinDuration are skipped. It stops at the
// first submission failure and returns the timers submitted so far.
func (s *Service) SyncPending(ctx context.Context) ([]types.Timer, error) {
	pending, err := s.store.UnsyncedTimers(ctx, s.now().Add(-SyncWindow))
	if err != nil {
		return nil, err
	}

	var synced []types.Timer
	for _, t := range pending {
		if t.StoppedAt == nil {
			continue
		}
		if d := t.Elapsed(*t.StoppedAt); d < MinDuration {
			s.logger.Printf("Skipping timer %d on %s: %s is too short", t.ID, t.IssueKey, d)
			continue
		}
		if _, err := s.submit(ctx, t); err != nil {
			return synced, err
		}
		t.Synced = true
		synced = append(synced, t)
	}
	return synced, nil
}

func (s *Service) submit(ctx context.Context, t types.Timer) (types.LocalWorklog, error) {
	seconds := int(t.Elapsed(*t.StoppedAt).Round(time.Second) / time.Second)
	wl, err := s.submitter.Submit(ctx, t.IssueKey, t.StartedAt, seconds, t.Comment)
	if err != nil {
		return types.LocalWorklog{}, fmt.Errorf("failed to submit timer %d: %w", t.ID, err)
	}
	if err := s.store.MarkTimerSynced(ctx, t.ID); err != nil {
		return wl, fmt.Errorf("timer %d submitted as worklog %s but not marked synced: %w", t.ID, wl.ID, err)
	}
	return wl, nil
}

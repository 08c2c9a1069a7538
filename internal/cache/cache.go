// Package cache is the local worklog cache.
//
// Store aggregates the repositories of package db behind narrow capability
// interfaces. Components depend on the interface they need (a synchronizer
// only adds and finds, the ownership guard only removes), and tests swap in
// fakes.
package cache

import (
	"context"
	"time"

	"github.com/timesheet-dev/timesheet/internal/cache/db"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// Outcome is the result of adding a worklog.
type Outcome = db.Outcome

const (
	Unchanged = db.Unchanged
	Inserted  = db.Inserted
	Updated   = db.Updated
)

// WorklogFilter selects cached worklogs.
type WorklogFilter = db.WorklogFilter

// Stats holds row counts per table.
type Stats = db.Stats

// WorklogAdder upserts worklogs.
type WorklogAdder interface {
	AddWorklog(ctx context.Context, wl types.LocalWorklog) (Outcome, error)
}

// WorklogRemover deletes worklogs.
type WorklogRemover interface {
	RemoveWorklog(ctx context.Context, id string) error
	RemoveWorklogs(ctx context.Context, ids []string) error
}

// WorklogFinder reads worklogs.
type WorklogFinder interface {
	FindWorklog(ctx context.Context, id string) (types.LocalWorklog, error)
	FindWorklogs(ctx context.Context, filter WorklogFilter) ([]types.LocalWorklog, error)
	WorklogIDsInWindow(ctx context.Context, key types.IssueKey, since, until time.Time) ([]string, error)
}

// IssueStore reads and writes issues.
type IssueStore interface {
	AddIssues(ctx context.Context, issues []types.Issue) error
	EnsureIssue(ctx context.Context, key types.IssueKey) error
	FindIssues(ctx context.Context, keys []types.IssueKey) ([]types.Issue, error)
	UniqueIssueKeys(ctx context.Context) ([]types.IssueKey, error)
}

// UserStore records users.
type UserStore interface {
	SetCurrentUser(ctx context.Context, user types.User) error
	CurrentUser(ctx context.Context) (types.User, error)
}

// DeletionStore persists two-phase delete state.
type DeletionStore interface {
	MarkDeletion(ctx context.Context, worklogID string, key types.IssueKey) error
	ClearDeletion(ctx context.Context, worklogID string) error
	CompleteDeletion(ctx context.Context, worklogID string) error
	PendingDeletions(ctx context.Context) ([]types.PendingDeletion, error)
}

// TimerStore persists timers.
type TimerStore interface {
	StartTimer(ctx context.Context, timer types.Timer) (int64, error)
	ActiveTimer(ctx context.Context) (types.Timer, error)
	StopTimer(ctx context.Context, stopAt time.Time, comment string) (types.Timer, error)
	UnsyncedTimers(ctx context.Context, since time.Time) ([]types.Timer, error)
	TimersAfter(ctx context.Context, since time.Time) ([]types.Timer, error)
	TimersForIssue(ctx context.Context, key types.IssueKey) ([]types.Timer, error)
	MarkTimerSynced(ctx context.Context, id int64) error
	DeleteTimer(ctx context.Context, id int64) error
}

// Store implements every capability interface over one database handle.
type Store struct {
	db *db.DB
}

var (
	_ WorklogAdder   = (*Store)(nil)
	_ WorklogRemover = (*Store)(nil)
	_ WorklogFinder  = (*Store)(nil)
	_ IssueStore     = (*Store)(nil)
	_ UserStore      = (*Store)(nil)
	_ DeletionStore  = (*Store)(nil)
	_ TimerStore     = (*Store)(nil)
)

// Open opens the cache database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	d, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{db: d}, nil
}

// New wraps an already open database.
func New(d *db.DB) *Store {
	return &Store{db: d}
}

// DB returns the underlying handle.
func (s *Store) DB() *db.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.db.Path() }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Stats returns row counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) { return s.db.GetStats(ctx) }

// Purge empties the cache.
func (s *Store) Purge(ctx context.Context) error { return s.db.Purge(ctx) }

func (s *Store) AddWorklog(ctx context.Context, wl types.LocalWorklog) (Outcome, error) {
	return s.db.Worklogs().Upsert(ctx, wl)
}

func (s *Store) AddWorklogs(ctx context.Context, wls []types.LocalWorklog) (int, error) {
	return s.db.Worklogs().AddAll(ctx, wls)
}

func (s *Store) RemoveWorklog(ctx context.Context, id string) error {
	return s.db.Worklogs().Remove(ctx, id)
}

func (s *Store) RemoveWorklogs(ctx context.Context, ids []string) error {
	return s.db.Worklogs().RemoveAll(ctx, ids)
}

func (s *Store) FindWorklog(ctx context.Context, id string) (types.LocalWorklog, error) {
	return s.db.Worklogs().Find(ctx, id)
}

func (s *Store) FindWorklogs(ctx context.Context, filter WorklogFilter) ([]types.LocalWorklog, error) {
	return s.db.Worklogs().FindAfter(ctx, filter)
}

func (s *Store) WorklogIDsInWindow(ctx context.Context, key types.IssueKey, since, until time.Time) ([]string, error) {
	return s.db.Worklogs().IDsInWindow(ctx, key, since, until)
}

func (s *Store) AddIssues(ctx context.Context, issues []types.Issue) error {
	return s.db.Issues().AddAll(ctx, issues)
}

func (s *Store) EnsureIssue(ctx context.Context, key types.IssueKey) error {
	return s.db.Issues().EnsureExists(ctx, key)
}

func (s *Store) FindIssues(ctx context.Context, keys []types.IssueKey) ([]types.Issue, error) {
	return s.db.Issues().Find(ctx, keys)
}

func (s *Store) UniqueIssueKeys(ctx context.Context) ([]types.IssueKey, error) {
	return s.db.Issues().UniqueKeys(ctx)
}

func (s *Store) SetCurrentUser(ctx context.Context, user types.User) error {
	return s.db.Users().SetCurrent(ctx, user)
}

func (s *Store) CurrentUser(ctx context.Context) (types.User, error) {
	return s.db.Users().FindCurrent(ctx)
}

func (s *Store) MarkDeletion(ctx context.Context, worklogID string, key types.IssueKey) error {
	return s.db.Deletions().Mark(ctx, worklogID, key)
}

func (s *Store) ClearDeletion(ctx context.Context, worklogID string) error {
	return s.db.Deletions().Clear(ctx, worklogID)
}

func (s *Store) CompleteDeletion(ctx context.Context, worklogID string) error {
	return s.db.Deletions().CompleteDeletion(ctx, worklogID)
}

func (s *Store) PendingDeletions(ctx context.Context) ([]types.PendingDeletion, error) {
	return s.db.Deletions().List(ctx)
}

func (s *Store) StartTimer(ctx context.Context, timer types.Timer) (int64, error) {
	return s.db.Timers().Start(ctx, timer)
}

func (s *Store) ActiveTimer(ctx context.Context) (types.Timer, error) {
	return s.db.Timers().FindActive(ctx)
}

func (s *Store) StopTimer(ctx context.Context, stopAt time.Time, comment string) (types.Timer, error) {
	return s.db.Timers().StopActive(ctx, stopAt, comment)
}

func (s *Store) UnsyncedTimers(ctx context.Context, since time.Time) ([]types.Timer, error) {
	return s.db.Timers().FindUnsynced(ctx, since)
}

func (s *Store) TimersAfter(ctx context.Context, since time.Time) ([]types.Timer, error) {
	return s.db.Timers().FindAfter(ctx, since)
}

func (s *Store) TimersForIssue(ctx context.Context, key types.IssueKey) ([]types.Timer, error) {
	return s.db.Timers().FindByIssue(ctx, key)
}

func (s *Store) MarkTimerSynced(ctx context.Context, id int64) error {
	return s.db.Timers().MarkSynced(ctx, id)
}

func (s *Store) DeleteTimer(ctx context.Context, id int64) error {
	return s.db.Timers().Delete(ctx, id)
}

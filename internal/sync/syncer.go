package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/timesheet-dev/timesheet/internal/cache"
	"github.com/timesheet-dev/timesheet/internal/jira"
	"github.com/timesheet-dev/timesheet/internal/remote"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// ErrNothingToSync is returned when a request resolves to no issues.
var ErrNothingToSync = errors.New("nothing to sync: no issues given and none cached")

// Request selects what a run synchronizes.
type Request struct {
	// Since is the inclusive lower bound on worklog start times. Zero means
	// Config.DefaultWindow before now.
	Since time.Time

	// IssueKeys limits the run to these issues
	IssueKeys []types.IssueKey

	// Projects adds every issue of these projects
	Projects []string

	// AllUsers keeps worklogs of every author, not only the current user
	AllUsers bool

	// Prune removes cached worklogs in the window that Jira no longer returns
	Prune bool
}

// Failure is a recoverable error tied to one issue or worklog.
type Failure struct {
	IssueKey  types.IssueKey
	WorklogID string
	Err       error
}

func (f Failure) Error() string {
	switch {
	case f.WorklogID != "":
		return fmt.Sprintf("%s worklog %s: %v", f.IssueKey, f.WorklogID, f.Err)
	case f.IssueKey != "":
		return fmt.Sprintf("%s: %v", f.IssueKey, f.Err)
	}
	return f.Err.Error()
}

func (f Failure) Unwrap() error { return f.Err }

// Summary reports what a run did.
type Summary struct {
	Since     time.Time
	Until     time.Time
	User      types.User
	Issues    int
	Fetched   int
	Inserted  int
	Updated   int
	Unchanged int
	// Skipped counts worklogs of other authors
	Skipped   int
	Pruned    int
	Recovered int
	Failures  []Failure
}

// Changed returns the number of inserted, updated and pruned worklogs.
func (s Summary) Changed() int {
	return s.Inserted + s.Updated + s.Pruned
}

// Err joins the collected failures, or returns nil if there were none.
func (s Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(s.Failures))
	for i, f := range s.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (s Summary) String() string {
	return fmt.Sprintf("%d issues, %d worklogs fetched: %d inserted, %d updated, %d unchanged, %d skipped, %d pruned, %d failures",
		s.Issues, s.Fetched, s.Inserted, s.Updated, s.Unchanged, s.Skipped, s.Pruned, len(s.Failures))
}

// Config holds synchronizer configuration.
type Config struct {
	// DefaultWindow is used when a request has no Since
	DefaultWindow time.Duration

	// Recoverer resolves pending deletions before fetching; nil skips it
	Recoverer Recoverer

	// Now returns the current time (tests)
	Now func() time.Time

	// Logger for sync events
	Logger *log.Logger
}

// DefaultConfig returns the default synchronizer configuration.
func DefaultConfig() Config {
	return Config{
		DefaultWindow: 30 * 24 * time.Hour,
		Now:           time.Now,
	}
}

// Synchronizer copies Jira worklogs into the cache.
type Synchronizer struct {
	store   Store
	fetcher Fetcher
	users   UserSource
	config  Config
	logger  *log.Logger
}

// New creates a Synchronizer.
//
// If cfg.Logger is nil, a default logger writing to stderr is used.
func New(store Store, fetcher Fetcher, users UserSource, cfg Config) *Synchronizer {
	def := DefaultConfig()
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = def.DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Synchronizer{
		store:   store,
		fetcher: fetcher,
		users:   users,
		config:  cfg,
		logger:  logger,
	}
}

// Synchronize fetches the worklogs started in [Since, now) for the requested
// issues and upserts them into the cache.
//
// The returned error is non-nil only when the run could not start or was
// aborted; per-issue failures are reported in Summary.Failures.
func (s *Synchronizer) Synchronize(ctx context.Context, req Request) (Summary, error) {
	now := s.config.Now()
	since := req.Since
	if since.IsZero() {
		since = now.Add(-s.config.DefaultWindow)
	}
	sum := Summary{Since: since, Until: now}
	if !since.Before(now) {
		return sum, types.Wrap(types.ErrBadInput, "sync", "", fmt.Errorf("start %s is not in the past", since.Format(time.RFC3339)))
	}

	if err := ctx.Err(); err != nil {
		return sum, err
	}

	me, err := s.users.CurrentUser(ctx)
	if err != nil {
		return sum, fmt.Errorf("failed to resolve current user: %w", err)
	}
	if err := s.store.SetCurrentUser(ctx, me); err != nil {
		return sum, fmt.Errorf("failed to store current user: %w", err)
	}
	sum.User = me

	if s.config.Recoverer != nil {
		n, err := s.config.Recoverer.Recover(ctx)
		if err != nil {
			if abort(ctx, err) {
				return sum, err
			}
			sum.Failures = append(sum.Failures, Failure{Err: fmt.Errorf("failed to recover pending deletions: %w", err)})
		}
		sum.Recovered = n
	}

	keys, err := s.resolveScope(ctx, req, &sum)
	if err != nil {
		return sum, err
	}
	if len(keys) == 0 {
		return sum, ErrNothingToSync
	}
	sum.Issues = len(keys)

	s.logger.Printf("Syncing %d issues from %s as %s", len(keys), since.Format(time.RFC3339), me.DisplayName)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := s.syncIssue(ctx, key, req, me, &sum); err != nil {
			if abort(ctx, err) {
				return sum, err
			}
			s.logger.Printf("WARNING: Failed to sync %s: %v", key, err)
			sum.Failures = append(sum.Failures, Failure{IssueKey: key, Err: err})
		}
	}

	s.logger.Printf("Sync complete: %s", sum)
	return sum, nil
}

// resolveScope returns the issue keys of a request and caches the issues
// found remotely.
func (s *Synchronizer) resolveScope(ctx context.Context, req Request, sum *Summary) ([]types.IssueKey, error) {
	if len(req.IssueKeys) == 0 && len(req.Projects) == 0 {
		keys, err := s.store.UniqueIssueKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list cached issues: %w", err)
		}
		return keys, nil
	}

	jql := jira.IssuesJQL(req.Projects, nil)
	if len(req.Projects) == 0 {
		jql = jira.IssuesJQL(nil, req.IssueKeys)
	}
	issues, err := remote.Collect(s.fetcher.Issues(ctx, jql))
	if err != nil {
		if abort(ctx, err) || len(req.IssueKeys) == 0 {
			return nil, fmt.Errorf("failed to search issues: %w", err)
		}
		// Explicit keys are still synced; their issue rows are created
		// lazily with the first worklog.
		sum.Failures = append(sum.Failures, Failure{Err: fmt.Errorf("failed to look up issues: %w", err)})
		issues = nil
	}
	if len(issues) > 0 {
		if err := s.store.AddIssues(ctx, issues); err != nil {
			return nil, fmt.Errorf("failed to store issues: %w", err)
		}
	}

	seen := make(map[types.IssueKey]bool)
	var keys []types.IssueKey
	add := func(k types.IssueKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, k := range req.IssueKeys {
		add(k)
	}
	for _, i := range issues {
		add(i.Key)
	}
	return keys, nil
}

// syncIssue fetches and upserts the worklogs of one issue. Per-worklog store
// errors are recorded in sum; the returned error aborts the issue.
func (s *Synchronizer) syncIssue(ctx context.Context, key types.IssueKey, req Request, me types.User, sum *Summary) error {
	seen := make(map[string]bool)

	for wl, err := range s.fetcher.Fetch(ctx, key, sum.Since) {
		if err != nil {
			return err
		}
		if !wl.Started.Before(sum.Until) {
			continue
		}
		seen[wl.ID] = true
		sum.Fetched++

		if !req.AllUsers && wl.Author.AccountID != me.AccountID {
			sum.Skipped++
			continue
		}

		outcome, err := s.store.AddWorklog(ctx, wl.Local(key))
		if err != nil {
			if abort(ctx, err) {
				return err
			}
			s.logger.Printf("WARNING: Failed to store worklog %s of %s: %v", wl.ID, key, err)
			sum.Failures = append(sum.Failures, Failure{IssueKey: key, WorklogID: wl.ID, Err: err})
			continue
		}
		switch outcome {
		case cache.Inserted:
			sum.Inserted++
		case cache.Updated:
			sum.Updated++
		default:
			sum.Unchanged++
		}
	}

	if !req.Prune {
		return nil
	}
	return s.prune(ctx, key, seen, sum)
}

// prune removes cached worklogs of key in the run's window that were not
// returned by Jira.
func (s *Synchronizer) prune(ctx context.Context, key types.IssueKey, seen map[string]bool, sum *Summary) error {
	cached, err := s.store.WorklogIDsInWindow(ctx, key, sum.Since, sum.Until)
	if err != nil {
		return err
	}
	var stale []string
	for _, id := range cached {
		if !seen[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.store.RemoveWorklogs(ctx, stale); err != nil {
		return err
	}
	s.logger.Printf("Pruned %d worklogs of %s: %s", len(stale), key, strings.Join(stale, ", "))
	sum.Pruned += len(stale)
	return nil
}

// abort reports whether err ends the whole run.
func abort(ctx context.Context, err error) bool {
	return types.IsFatal(err) || ctx.Err() != nil ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

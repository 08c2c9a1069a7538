// Package worklog submits new worklogs to Jira and lists cached ones.
package worklog

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
	"github.com/timesheet-dev/timesheet/internal/timeutil"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// Remote is the Jira API the service needs. *jira.Client implements it.
type Remote interface {
	TimeTracking(ctx context.Context) (types.TimeTracking, error)
	InsertWorklog(ctx context.Context, key types.IssueKey, in jira.NewWorklog) (types.Worklog, error)
}

// Store is the part of the cache the service uses.
type Store interface {
	cache.WorklogAdder
	cache.WorklogFinder
	cache.UserStore
}

var _ Remote = (*jira.Client)(nil)

// Config holds service configuration.
type Config struct {
	// Now returns the current time (tests)
	Now func() time.Time

	// Logger for submissions
	Logger *log.Logger
}

// Service adds worklogs.
type Service struct {
	store  Store
	remote Remote
	now    func() time.Time
	logger *log.Logger

	tracking *types.TimeTracking
}

// New creates a Service.
func New(store Store, remote Remote, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[worklog] ", log.LstdFlags)
	}
	return &Service{store: store, remote: remote, now: cfg.Now, logger: logger}
}

// AddRequest describes one "add" invocation.
type AddRequest struct {
	IssueKey types.IssueKey

	// Durations is either one duration ("1h30m") or one or more weekday
	// durations ("mon:4h", "tue:3,5h")
	Durations []string

	// Started is an optional start date/time; empty means "ending now".
	// Ignored for weekday durations, which start at 08:00.
	Started string

	Comment string
}

// Add submits the requested worklogs to Jira and caches what Jira returns.
// Entries are submitted in order; on failure the entries already submitted
// are returned with the error.
func (s *Service) Add(ctx context.Context, req AddRequest) ([]types.LocalWorklog, error) {
	if req.IssueKey == "" {
		return nil, types.Wrap(types.ErrBadInput, "add worklog", "", errors.New("issue key is required"))
	}
	if len(req.Durations) == 0 {
		return nil, types.Wrap(types.ErrBadInput, "add worklog", req.IssueKey.String(), errors.New("need at least one duration"))
	}
	key := types.IssueKey(strings.ToUpper(req.IssueKey.String()))

	tt, err := s.timeTracking(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var entries []entry
	if len(req.Durations) == 1 && !timeutil.IsWeekdayDuration(req.Durations[0]) {
		e, err := s.single(req.Durations[0], req.Started, tt, now)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	} else {
		if entries, err = s.weekdays(req.Durations, tt, now); err != nil {
			return nil, err
		}
	}

	added := make([]types.LocalWorklog, 0, len(entries))
	for _, e := range entries {
		wl, err := s.Submit(ctx, key, e.started, e.seconds, req.Comment)
		if err != nil {
			return added, err
		}
		added = append(added, wl)
	}
	return added, nil
}

type entry struct {
	started time.Time
	seconds int
}

func (s *Service) single(duration, started string, tt types.TimeTracking, now time.Time) (entry, error) {
	spent, err := timeutil.ParseDuration(duration, tt)
	if err != nil {
		return entry{}, err
	}
	var start time.Time
	if started != "" {
		if start, err = timeutil.ParseDateTime(started, now); err != nil {
			return entry{}, err
		}
	}
	start, err = timeutil.StartTime(start, spent.Seconds, now)
	if err != nil {
		return entry{}, err
	}
	return entry{started: start, seconds: spent.Seconds}, nil
}

func (s *Service) weekdays(durations []string, tt types.TimeTracking, now time.Time) ([]entry, error) {
	parsed, err := timeutil.ParseWeekdayDurations(durations)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, 0, len(parsed))
	for _, wd := range parsed {
		spent, err := timeutil.ParseDuration(wd.Duration, tt)
		if err != nil {
			return nil, err
		}
		start, err := timeutil.StartTime(timeutil.LastWeekday(now, wd.Weekday), spent.Seconds, now)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{started: start, seconds: spent.Seconds})
	}
	return entries, nil
}

// Submit inserts one worklog in Jira and caches the stored entry.
func (s *Service) Submit(ctx context.Context, key types.IssueKey, started time.Time, seconds int, comment string) (types.LocalWorklog, error) {
	wl, err := s.remote.InsertWorklog(ctx, key, jira.NewWorklog{
		Started:          started,
		TimeSpentSeconds: seconds,
		Comment:          comment,
	})
	if err != nil {
		return types.LocalWorklog{}, fmt.Errorf("failed to add worklog to %s: %w", key, err)
	}

	local := wl.Local(key)
	if _, err := s.store.AddWorklog(ctx, local); err != nil {
		return local, fmt.Errorf("worklog %s added to Jira but not cached: %w", wl.ID, err)
	}
	s.logger.Printf("Added worklog %s to %s: %s from %s", wl.ID, key,
		timeutil.FormatSeconds(seconds), started.Format("2006-01-02 15:04"))
	return local, nil
}

// timeTracking fetches the Jira time-tracking configuration once.
func (s *Service) timeTracking(ctx context.Context) (types.TimeTracking, error) {
	if s.tracking != nil {
		return *s.tracking, nil
	}
	tt, err := s.remote.TimeTracking(ctx)
	if err != nil {
		return types.TimeTracking{}, fmt.Errorf("failed to read time tracking configuration: %w", err)
	}
	s.tracking = &tt
	return tt, nil
}

// StatusRequest selects cached worklogs for the status report.
type StatusRequest struct {
	Since     time.Time
	IssueKeys []types.IssueKey
	AllUsers  bool
}

// Status returns cached worklogs started at or after Since, oldest first.
// Unless AllUsers is set, only entries of the user recorded by the last sync
// are returned.
func (s *Service) Status(ctx context.Context, req StatusRequest) ([]types.LocalWorklog, error) {
	filter := cache.WorklogFilter{Since: req.Since, IssueKeys: req.IssueKeys}
	if !req.AllUsers {
		me, err := s.store.CurrentUser(ctx)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return nil, fmt.Errorf("current user unknown, run a sync first: %w", err)
			}
			return nil, err
		}
		filter.AuthorAccountIDs = []string{me.AccountID}
	}
	return s.store.FindWorklogs(ctx, filter)
}

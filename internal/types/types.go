// Package types defines the domain model shared by the cache, the Jira
// client and the synchronization engine.
package types

import (
	"fmt"
	"strings"
	"time"
)

// IssueKey is a Jira business key such as "TIME-147". Keys are always stored
// upper-case.
type IssueKey string

// NewIssueKey normalizes s into an IssueKey.
// Returns ErrBadInput if s is blank.
func NewIssueKey(s string) (IssueKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Wrap(ErrBadInput, "parse issue key", s, fmt.Errorf("issue key may not be empty"))
	}
	return IssueKey(strings.ToUpper(s)), nil
}

// ParseIssueKeys normalizes a list of keys, dropping duplicates while
// preserving the order of first appearance.
func ParseIssueKeys(raw []string) ([]IssueKey, error) {
	seen := make(map[IssueKey]bool, len(raw))
	keys := make([]IssueKey, 0, len(raw))
	for _, s := range raw {
		k, err := NewIssueKey(s)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys, nil
}

// String implements fmt.Stringer.
func (k IssueKey) String() string { return string(k) }

// Project returns the project part of the key ("TIME" for "TIME-147").
func (k IssueKey) Project() string {
	if i := strings.LastIndexByte(string(k), '-'); i > 0 {
		return string(k[:i])
	}
	return string(k)
}

// Author identifies the user who created a worklog.
type Author struct {
	AccountID   string
	DisplayName string
	Email       string
}

// Worklog is a remote, authoritative worklog entry as returned by Jira.
type Worklog struct {
	ID               string
	IssueID          string
	IssueKey         IssueKey
	Author           Author
	Created          time.Time
	Updated          time.Time
	Started          time.Time
	TimeSpent        string
	TimeSpentSeconds int
	Comment          string
}

// LocalWorklog is the cached projection of a Worklog.
//
// Timestamps are in the local time zone and the author is flattened to a
// display name. AuthorAccountID is kept so cached entries can be filtered by
// user without a join.
type LocalWorklog struct {
	ID               string
	IssueKey         IssueKey
	IssueID          string
	Author           string
	AuthorAccountID  string
	Created          time.Time
	Updated          time.Time
	Started          time.Time
	TimeSpent        string
	TimeSpentSeconds int
	Comment          string
}

// Local projects a remote worklog into its cached form.
//
// If the remote entry carries no issue key, fallback is used. Numeric fields
// are copied verbatim; Jira is the source of truth for durations.
func (w *Worklog) Local(fallback IssueKey) LocalWorklog {
	key := w.IssueKey
	if key == "" {
		key = fallback
	}
	return LocalWorklog{
		ID:               w.ID,
		IssueKey:         key,
		IssueID:          w.IssueID,
		Author:           w.Author.DisplayName,
		AuthorAccountID:  w.Author.AccountID,
		Created:          w.Created.In(time.Local),
		Updated:          w.Updated.In(time.Local),
		Started:          w.Started.In(time.Local),
		TimeSpent:        w.TimeSpent,
		TimeSpentSeconds: w.TimeSpentSeconds,
		Comment:          w.Comment,
	}
}

// Validate checks the invariants a worklog must satisfy before it is cached.
func (w *LocalWorklog) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("worklog id is required")
	}
	if w.IssueKey == "" {
		return fmt.Errorf("worklog %s: issue key is required", w.ID)
	}
	if w.TimeSpentSeconds < 0 {
		return fmt.Errorf("worklog %s: time spent must not be negative (got %d)", w.ID, w.TimeSpentSeconds)
	}
	if w.Started.IsZero() {
		return fmt.Errorf("worklog %s: started is required", w.ID)
	}
	return nil
}

// Equal reports whether two projections carry the same data. Timestamps are
// compared as instants, so the zone they are expressed in does not matter.
func (w LocalWorklog) Equal(o LocalWorklog) bool {
	return w.ID == o.ID &&
		w.IssueKey == o.IssueKey &&
		w.IssueID == o.IssueID &&
		w.Author == o.Author &&
		w.AuthorAccountID == o.AuthorAccountID &&
		w.Created.Equal(o.Created) &&
		w.Updated.Equal(o.Updated) &&
		w.Started.Equal(o.Started) &&
		w.TimeSpent == o.TimeSpent &&
		w.TimeSpentSeconds == o.TimeSpentSeconds &&
		w.Comment == o.Comment
}

// Component is a Jira project component.
type Component struct {
	ID   string
	Name string
}

// Issue is the cached summary of a Jira issue.
type Issue struct {
	Key        IssueKey
	ID         string
	Summary    string
	Components []Component
}

// User is a Jira user known to the cache.
type User struct {
	AccountID   string
	Email       string
	DisplayName string
	TimeZone    string
}

// Timer is an in-progress, not yet submitted worklog.
type Timer struct {
	ID        int64
	IssueKey  IssueKey
	CreatedAt time.Time
	StartedAt time.Time
	StoppedAt *time.Time
	Synced    bool
	Comment   string
}

// IsActive reports whether the timer is still running.
func (t *Timer) IsActive() bool {
	return t.StoppedAt == nil
}

// Elapsed returns the duration of a stopped timer, or the time since start
// (relative to now) for an active one.
func (t *Timer) Elapsed(now time.Time) time.Duration {
	if t.StoppedAt != nil {
		return t.StoppedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}

// PendingDeletion records a worklog whose remote deletion has been requested
// but whose local removal is not yet confirmed.
type PendingDeletion struct {
	WorklogID   string
	IssueKey    IssueKey
	RequestedAt time.Time
}

// TimeTracking holds the Jira time-tracking configuration used to convert
// "1d" and "1w" durations into seconds.
type TimeTracking struct {
	WorkingHoursPerDay float64
	WorkingDaysPerWeek float64
}

// DefaultTimeTracking matches the Jira defaults.
func DefaultTimeTracking() TimeTracking {
	return TimeTracking{WorkingHoursPerDay: 8, WorkingDaysPerWeek: 5}
}

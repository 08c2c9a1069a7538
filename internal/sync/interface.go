package sync

import (
	"context"
	"iter"
	"time"

	"github.com/timesheet-dev/timesheet/internal/cache"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// Fetcher lists remote issues and worklogs. *remote.Fetcher implements it.
type Fetcher interface {
	// Fetch returns the worklogs of an issue started at or after since.
	Fetch(ctx context.Context, key types.IssueKey, since time.Time) iter.Seq2[types.Worklog, error]

	// Issues returns the issues matching a JQL query.
	Issues(ctx context.Context, jql string) iter.Seq2[types.Issue, error]
}

// UserSource resolves the authenticated Jira user. *jira.Client implements
// it.
type UserSource interface {
	CurrentUser(ctx context.Context) (types.User, error)
}

// Recoverer finishes two-phase deletes left behind by an interrupted run.
// *ownership.Guard implements it.
type Recoverer interface {
	// Recover resolves every pending deletion and returns how many were
	// completed locally.
	Recover(ctx context.Context) (int, error)
}

// Store is the part of the cache the synchronizer writes to.
type Store interface {
	cache.UserStore
	cache.IssueStore
	cache.WorklogAdder
	cache.WorklogRemover
	cache.WorklogFinder
}

var _ Store = (*cache.Store)(nil)

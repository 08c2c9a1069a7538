// Package ownership restricts worklog mutations to their author.
//
// Deletes are two-phase: the intent is persisted in the cache before Jira is
// asked to delete, and the local row and the intent are removed together once
// Jira confirms. A run interrupted between the phases leaves the intent
// behind; Recover resolves it on the next sync.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/timesheet-dev/timesheet/internal/cache"
	"github.com/timesheet-dev/timesheet/internal/jira"
	"github.com/timesheet-dev/timesheet/internal/types"
)

// Remote is the Jira API the guard needs. *jira.Client implements it.
type Remote interface {
	CurrentUser(ctx context.Context) (types.User, error)
	Worklog(ctx context.Context, key types.IssueKey, id string) (types.Worklog, error)
	UpdateWorklog(ctx context.Context, key types.IssueKey, id string, upd jira.WorklogUpdate) (types.Worklog, error)
	DeleteWorklog(ctx context.Context, key types.IssueKey, id string) error
}

// Store is the part of the cache the guard writes to.
type Store interface {
	cache.WorklogAdder
	cache.DeletionStore
}

var _ Remote = (*jira.Client)(nil)

// AuthorizeMutation returns an error matching types.ErrNotOwner unless the
// acting user authored the entry. Account ids are compared exactly.
func AuthorizeMutation(entry types.Worklog, acting types.User) error {
	if acting.AccountID == "" || entry.Author.AccountID != acting.AccountID {
		return types.Wrap(types.ErrNotOwner, "authorize", entry.ID,
			fmt.Errorf("worklog belongs to %s", authorName(entry.Author)))
	}
	return nil
}

func authorName(a types.Author) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	if a.AccountID != "" {
		return a.AccountID
	}
	return "an unknown user"
}

// Guard performs author-checked mutations against Jira and the cache.
type Guard struct {
	store  Store
	remote Remote
	logger *log.Logger
}

// New creates a Guard.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store Store, remote Remote, logger *log.Logger) *Guard {
	if logger == nil {
		logger = log.New(os.Stderr, "[ownership] ", log.LstdFlags)
	}
	return &Guard{store: store, remote: remote, logger: logger}
}

// authorize loads the remote entry and checks it against the current user.
func (g *Guard) authorize(ctx context.Context, key types.IssueKey, id string) (types.Worklog, error) {
	entry, err := g.remote.Worklog(ctx, key, id)
	if err != nil {
		return types.Worklog{}, fmt.Errorf("failed to fetch worklog %s: %w", id, err)
	}
	me, err := g.remote.CurrentUser(ctx)
	if err != nil {
		return types.Worklog{}, fmt.Errorf("failed to resolve current user: %w", err)
	}
	if err := AuthorizeMutation(entry, me); err != nil {
		return types.Worklog{}, err
	}
	return entry, nil
}

// Delete removes a worklog the current user authored from Jira and the
// cache.
//
// If Jira rejects the delete, the intent is cleared and the cached row stays.
// If the outcome is unknown (a transport failure or cancellation), the intent
// and the cached row both stay and Recover settles them. If Jira confirms, the cached row and the intent are removed in one
// transaction.
func (g *Guard) Delete(ctx context.Context, key types.IssueKey, id string) error {
	if _, err := g.authorize(ctx, key, id); err != nil {
		return err
	}

	if err := g.store.MarkDeletion(ctx, id, key); err != nil {
		return fmt.Errorf("failed to record deletion of %s: %w", id, err)
	}

	if err := g.remote.DeleteWorklog(ctx, key, id); err != nil && !errors.Is(err, types.ErrNotFound) {
		if outcomeUnknown(err) {
			g.logger.Printf("Delete of worklog %s of %s may have reached Jira; keeping intent for recovery: %v", id, key, err)
			return fmt.Errorf("failed to delete worklog %s in Jira, the next sync checks it again: %w", id, err)
		}
		if cerr := g.store.ClearDeletion(ctx, id); cerr != nil {
			g.logger.Printf("WARNING: Failed to clear deletion intent for %s: %v", id, cerr)
		}
		return fmt.Errorf("failed to delete worklog %s in Jira: %w", id, err)
	}

	if err := g.store.CompleteDeletion(ctx, id); err != nil {
		return fmt.Errorf("worklog %s deleted in Jira but not in the cache: %w", id, err)
	}
	g.logger.Printf("Deleted worklog %s of %s", id, key)
	return nil
}

// outcomeUnknown reports whether a failed request may still have been applied
// by Jira.
func outcomeUnknown(err error) bool {
	return errors.Is(err, types.ErrNetwork) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Update changes a worklog the current user authored and caches the entry
// returned by Jira.
func (g *Guard) Update(ctx context.Context, key types.IssueKey, id string, upd jira.WorklogUpdate) (types.LocalWorklog, error) {
	if _, err := g.authorize(ctx, key, id); err != nil {
		return types.LocalWorklog{}, err
	}

	updated, err := g.remote.UpdateWorklog(ctx, key, id, upd)
	if err != nil {
		return types.LocalWorklog{}, fmt.Errorf("failed to update worklog %s in Jira: %w", id, err)
	}

	local := updated.Local(key)
	if _, err := g.store.AddWorklog(ctx, local); err != nil {
		return local, fmt.Errorf("worklog %s updated in Jira but not in the cache: %w", id, err)
	}
	g.logger.Printf("Updated worklog %s of %s", id, key)
	return local, nil
}

// Recover resolves deletion intents left by an interrupted Delete. An entry
// Jira no longer has is removed from the cache; an entry Jira still has keeps
// its cached row and the intent is dropped. Intents that cannot be checked
// stay for the next run.
//
// Returns the number of deletions completed locally.
func (g *Guard) Recover(ctx context.Context) (int, error) {
	pending, err := g.store.PendingDeletions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending deletions: %w", err)
	}

	var completed int
	var errs []error
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return completed, err
		}

		_, err := g.remote.Worklog(ctx, p.IssueKey, p.WorklogID)
		switch {
		case errors.Is(err, types.ErrNotFound):
			if err := g.store.CompleteDeletion(ctx, p.WorklogID); err != nil {
				return completed, fmt.Errorf("failed to complete deletion of %s: %w", p.WorklogID, err)
			}
			completed++
			g.logger.Printf("Recovered deletion of worklog %s of %s", p.WorklogID, p.IssueKey)
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to check worklog %s: %w", p.WorklogID, err))
		default:
			if err := g.store.ClearDeletion(ctx, p.WorklogID); err != nil {
				return completed, fmt.Errorf("failed to clear deletion intent for %s: %w", p.WorklogID, err)
			}
			g.logger.Printf("Worklog %s of %s still exists in Jira; dropped deletion intent", p.WorklogID, p.IssueKey)
		}
	}
	return completed, errors.Join(errs...)
}

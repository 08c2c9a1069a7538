package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// Outcome is the result of a worklog upsert.
type Outcome int

const (
	Unchanged Outcome = iota
	Inserted
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// WorklogRepo persists cached worklogs.
type WorklogRepo struct {
	db *DB
}

// WorklogFilter configures FindAfter.
type WorklogFilter struct {
	// Since is the inclusive lower bound on started
	Since time.Time
	// Until is the exclusive upper bound on started (zero = unbounded)
	Until time.Time
	// IssueKeys restricts to these issues (empty = all)
	IssueKeys []types.IssueKey
	// AuthorAccountIDs restricts to these authors (empty = all)
	AuthorAccountIDs []string
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

const worklogColumns = `id, issue_key, issue_id, author, author_account_id,
	created, updated, started, time_spent, time_spent_seconds, comment`

// Upsert inserts the worklog or updates the cached row if any field differs.
//
// The compare and the write run in one transaction, which also creates the
// parent issue row if needed. Timestamps are compared at millisecond
// precision, the precision they are stored with.
func (r *WorklogRepo) Upsert(ctx context.Context, wl types.LocalWorklog) (Outcome, error) {
	if err := wl.Validate(); err != nil {
		return Unchanged, types.Wrap(types.ErrBadInput, "upsert worklog", wl.ID, err)
	}
	wl = truncate(wl)

	var outcome Outcome
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		outcome, err = upsertWorklog(ctx, tx, wl)
		return err
	})
	if err != nil {
		return Unchanged, err
	}
	return outcome, nil
}

// AddAll upserts worklogs in one transaction and returns the number of rows
// inserted or changed.
func (r *WorklogRepo) AddAll(ctx context.Context, worklogs []types.LocalWorklog) (int, error) {
	normalized := make([]types.LocalWorklog, 0, len(worklogs))
	for _, wl := range worklogs {
		if err := wl.Validate(); err != nil {
			return 0, types.Wrap(types.ErrBadInput, "add worklog", wl.ID, err)
		}
		normalized = append(normalized, truncate(wl))
	}

	changed := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, wl := range normalized {
			outcome, err := upsertWorklog(ctx, tx, wl)
			if err != nil {
				return err
			}
			if outcome != Unchanged {
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// Remove deletes a cached worklog. Removing an unknown id is not an error.
func (r *WorklogRepo) Remove(ctx context.Context, id string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return deleteWorklog(ctx, tx, id)
	})
}

// RemoveAll deletes the given worklogs in one transaction.
func (r *WorklogRepo) RemoveAll(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := deleteWorklog(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Find returns a cached worklog by id.
// Returns an error matching types.ErrNotFound if it is not cached.
func (r *WorklogRepo) Find(ctx context.Context, id string) (types.LocalWorklog, error) {
	q, err := r.db.reader("find worklog")
	if err != nil {
		return types.LocalWorklog{}, err
	}
	return findWorklog(ctx, q, id)
}

// FindAfter returns cached worklogs matching filter, ordered by started then
// id.
func (r *WorklogRepo) FindAfter(ctx context.Context, filter WorklogFilter) ([]types.LocalWorklog, error) {
	q, err := r.db.reader("find worklogs")
	if err != nil {
		return nil, err
	}

	conditions := []string{"started >= ?"}
	args := []any{formatTime(filter.Since)}

	if !filter.Until.IsZero() {
		conditions = append(conditions, "started < ?")
		args = append(args, formatTime(filter.Until))
	}
	if len(filter.IssueKeys) > 0 {
		conditions = append(conditions, "issue_key IN ("+placeholders(len(filter.IssueKeys))+")")
		args = append(args, keyArgs(filter.IssueKeys)...)
	}
	if len(filter.AuthorAccountIDs) > 0 {
		conditions = append(conditions, "author_account_id IN ("+placeholders(len(filter.AuthorAccountIDs))+")")
		for _, id := range filter.AuthorAccountIDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + worklogColumns + ` FROM worklog
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY started ASC, id ASC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.Wrap(types.ErrSQL, "find worklogs", "", err)
	}
	defer rows.Close()

	return scanWorklogs(rows)
}

// IDsInWindow returns the ids of cached worklogs of an issue with started in
// [since, until).
func (r *WorklogRepo) IDsInWindow(ctx context.Context, key types.IssueKey, since, until time.Time) ([]string, error) {
	q, err := r.db.reader("find worklog ids")
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id FROM worklog
		WHERE issue_key = ? AND started >= ? AND started < ?
		ORDER BY id ASC
	`, string(key), formatTime(since), formatTime(until))
	if err != nil {
		return nil, types.Wrap(types.ErrSQL, "find worklog ids", key.String(), err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan worklog id", key.String(), err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.ErrSQL, "iterate worklog ids", key.String(), err)
	}
	return ids, nil
}

// Count returns the total number of cached worklogs.
func (r *WorklogRepo) Count(ctx context.Context) (int, error) {
	q, err := r.db.reader("count worklogs")
	if err != nil {
		return 0, err
	}
	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM worklog").Scan(&count); err != nil {
		return 0, types.Wrap(types.ErrSQL, "count worklogs", "", err)
	}
	return count, nil
}

// Purge removes every cached worklog.
func (r *WorklogRepo) Purge(ctx context.Context) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM worklog"); err != nil {
			return types.Wrap(types.ErrSQL, "purge worklogs", "", err)
		}
		return nil
	})
}

func upsertWorklog(ctx context.Context, tx *sql.Tx, wl types.LocalWorklog) (Outcome, error) {
	if err := ensureIssue(ctx, tx, wl.IssueKey, wl.IssueID); err != nil {
		return Unchanged, err
	}

	existing, err := findWorklog(ctx, tx, wl.ID)
	switch {
	case errors.Is(err, types.ErrNotFound):
		if err := insertWorklog(ctx, tx, wl); err != nil {
			return Unchanged, err
		}
		return Inserted, nil
	case err != nil:
		return Unchanged, err
	case existing.Equal(wl):
		return Unchanged, nil
	}

	if err := updateWorklog(ctx, tx, wl); err != nil {
		return Unchanged, err
	}
	return Updated, nil
}

func insertWorklog(ctx context.Context, tx *sql.Tx, wl types.LocalWorklog) error {
	query := `INSERT INTO worklog (` + worklogColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		wl.ID,
		string(wl.IssueKey),
		wl.IssueID,
		wl.Author,
		wl.AuthorAccountID,
		formatTime(wl.Created),
		formatTime(wl.Updated),
		formatTime(wl.Started),
		wl.TimeSpent,
		wl.TimeSpentSeconds,
		wl.Comment,
	)
	if err != nil {
		return types.Wrap(types.ErrSQL, "insert worklog", wl.ID, err)
	}
	return nil
}

func updateWorklog(ctx context.Context, tx *sql.Tx, wl types.LocalWorklog) error {
	query := `
	UPDATE worklog SET
		issue_key = ?,
		issue_id = ?,
		author = ?,
		author_account_id = ?,
		created = ?,
		updated = ?,
		started = ?,
		time_spent = ?,
		time_spent_seconds = ?,
		comment = ?
	WHERE id = ?
	`
	_, err := tx.ExecContext(ctx, query,
		string(wl.IssueKey),
		wl.IssueID,
		wl.Author,
		wl.AuthorAccountID,
		formatTime(wl.Created),
		formatTime(wl.Updated),
		formatTime(wl.Started),
		wl.TimeSpent,
		wl.TimeSpentSeconds,
		wl.Comment,
		wl.ID,
	)
	if err != nil {
		return types.Wrap(types.ErrSQL, "update worklog", wl.ID, err)
	}
	return nil
}

func deleteWorklog(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM worklog WHERE id = ?`, id); err != nil {
		return types.Wrap(types.ErrSQL, "remove worklog", id, err)
	}
	return nil
}

func findWorklog(ctx context.Context, q querier, id string) (types.LocalWorklog, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+worklogColumns+` FROM worklog WHERE id = ?`, id)
	if err != nil {
		return types.LocalWorklog{}, types.Wrap(types.ErrSQL, "find worklog", id, err)
	}
	defer rows.Close()

	worklogs, err := scanWorklogs(rows)
	if err != nil {
		return types.LocalWorklog{}, err
	}
	if len(worklogs) == 0 {
		return types.LocalWorklog{}, types.Wrap(types.ErrNotFound, "find worklog", id, nil)
	}
	return worklogs[0], nil
}

// scanWorklogs is a helper function to scan multiple worklogs from query results.
func scanWorklogs(rows *sql.Rows) ([]types.LocalWorklog, error) {
	var worklogs []types.LocalWorklog

	for rows.Next() {
		var wl types.LocalWorklog
		var key string
		var created, updated, started string

		err := rows.Scan(
			&wl.ID,
			&key,
			&wl.IssueID,
			&wl.Author,
			&wl.AuthorAccountID,
			&created,
			&updated,
			&started,
			&wl.TimeSpent,
			&wl.TimeSpentSeconds,
			&wl.Comment,
		)
		if err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan worklog", "", err)
		}
		wl.IssueKey = types.IssueKey(key)

		for _, f := range []struct {
			src string
			dst *time.Time
		}{
			{created, &wl.Created},
			{updated, &wl.Updated},
			{started, &wl.Started},
		} {
			t, err := parseTime(f.src)
			if err != nil {
				return nil, types.Wrap(types.ErrSQL, "scan worklog", wl.ID, err)
			}
			*f.dst = t
		}

		worklogs = append(worklogs, wl)
	}

	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.ErrSQL, "iterate worklogs", "", fmt.Errorf("error iterating worklogs: %w", err))
	}

	return worklogs, nil
}

// truncate drops sub-millisecond precision so that a stored row compares
// equal to the value it was written from.
func truncate(wl types.LocalWorklog) types.LocalWorklog {
	wl.Created = wl.Created.Truncate(time.Millisecond)
	wl.Updated = wl.Updated.Truncate(time.Millisecond)
	wl.Started = wl.Started.Truncate(time.Millisecond)
	return wl
}

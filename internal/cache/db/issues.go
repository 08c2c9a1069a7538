package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// IssueRepo persists issues and their component links.
type IssueRepo struct {
	db *DB
}

// Add inserts or updates an issue.
//
// Non-empty id and summary overwrite the cached values. If Components is
// non-nil the issue's component links are replaced by it.
func (r *IssueRepo) Add(ctx context.Context, issue types.Issue) error {
	return r.AddAll(ctx, []types.Issue{issue})
}

// AddAll upserts issues in one transaction.
func (r *IssueRepo) AddAll(ctx context.Context, issues []types.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	for _, issue := range issues {
		if issue.Key == "" {
			return types.Wrap(types.ErrBadInput, "add issue", issue.ID, errEmptyKey)
		}
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, issue := range issues {
			if err := upsertIssue(ctx, tx, issue); err != nil {
				return err
			}
			if issue.Components == nil {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM issue_component WHERE issue_key = ?`, string(issue.Key)); err != nil {
				return types.Wrap(types.ErrSQL, "unlink components", issue.Key.String(), err)
			}
			if err := linkComponents(ctx, tx, issue.Key, issue.Components); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureExists creates a bare issue row for key unless one exists.
func (r *IssueRepo) EnsureExists(ctx context.Context, key types.IssueKey) error {
	if key == "" {
		return types.Wrap(types.ErrBadInput, "ensure issue", "", errEmptyKey)
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return ensureIssue(ctx, tx, key, "")
	})
}

// Remove deletes an issue. Worklogs, component links and timers of the issue
// are removed by cascade. Removing an unknown key is not an error.
func (r *IssueRepo) Remove(ctx context.Context, key types.IssueKey) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM issue WHERE issue_key = ?`, string(key)); err != nil {
			return types.Wrap(types.ErrSQL, "remove issue", key.String(), err)
		}
		return nil
	})
}

// Find returns the cached issues with the given keys, ordered by key. An
// empty key list returns every issue.
func (r *IssueRepo) Find(ctx context.Context, keys []types.IssueKey) ([]types.Issue, error) {
	q, err := r.db.reader("find issues")
	if err != nil {
		return nil, err
	}

	query := `SELECT issue_key, issue_id, summary FROM issue`
	var args []any
	if len(keys) > 0 {
		query += ` WHERE issue_key IN (` + placeholders(len(keys)) + `)`
		args = keyArgs(keys)
	}
	query += ` ORDER BY issue_key ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.Wrap(types.ErrSQL, "find issues", "", err)
	}
	defer rows.Close()

	var issues []types.Issue
	index := make(map[types.IssueKey]int)
	for rows.Next() {
		var issue types.Issue
		var key string
		if err := rows.Scan(&key, &issue.ID, &issue.Summary); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan issue", "", err)
		}
		issue.Key = types.IssueKey(key)
		issue.Components = []types.Component{}
		index[issue.Key] = len(issues)
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.ErrSQL, "iterate issues", "", err)
	}
	if len(issues) == 0 {
		return issues, nil
	}

	links, err := componentsByIssue(ctx, q, keys)
	if err != nil {
		return nil, err
	}
	for key, comps := range links {
		if i, ok := index[key]; ok {
			issues[i].Components = comps
		}
	}
	return issues, nil
}

// UniqueKeys returns the distinct issue keys referenced by cached worklogs,
// in ascending order.
func (r *IssueRepo) UniqueKeys(ctx context.Context) ([]types.IssueKey, error) {
	q, err := r.db.reader("find unique keys")
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `SELECT DISTINCT issue_key FROM worklog ORDER BY issue_key ASC`)
	if err != nil {
		return nil, types.Wrap(types.ErrSQL, "find unique keys", "", err)
	}
	defer rows.Close()

	var keys []types.IssueKey
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan issue key", "", err)
		}
		keys = append(keys, types.IssueKey(key))
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.ErrSQL, "iterate issue keys", "", err)
	}
	return keys, nil
}

func upsertIssue(ctx context.Context, tx *sql.Tx, issue types.Issue) error {
	query := `
	INSERT INTO issue (issue_key, issue_id, summary)
	VALUES (?, ?, ?)
	ON CONFLICT(issue_key) DO UPDATE SET
		issue_id = CASE WHEN excluded.issue_id != '' THEN excluded.issue_id ELSE issue.issue_id END,
		summary = CASE WHEN excluded.summary != '' THEN excluded.summary ELSE issue.summary END
	`
	if _, err := tx.ExecContext(ctx, query, string(issue.Key), issue.ID, issue.Summary); err != nil {
		return types.Wrap(types.ErrSQL, "upsert issue", issue.Key.String(), err)
	}
	return nil
}

// ensureIssue inserts a bare issue row. An existing row only gets its id
// filled in if it had none.
func ensureIssue(ctx context.Context, tx *sql.Tx, key types.IssueKey, issueID string) error {
	query := `
	INSERT INTO issue (issue_key, issue_id)
	VALUES (?, ?)
	ON CONFLICT(issue_key) DO UPDATE SET
		issue_id = excluded.issue_id
	WHERE issue.issue_id = '' AND excluded.issue_id != ''
	`
	if _, err := tx.ExecContext(ctx, query, string(key), issueID); err != nil {
		return types.Wrap(types.ErrSQL, "ensure issue", key.String(), err)
	}
	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func keyArgs(keys []types.IssueKey) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = string(k)
	}
	return args
}

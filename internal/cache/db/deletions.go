package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// DeletionRepo persists the intermediate state of two-phase worklog deletes.
type DeletionRepo struct {
	db *DB
}

// Mark records that remote deletion of a worklog has been requested.
func (r *DeletionRepo) Mark(ctx context.Context, worklogID string, key types.IssueKey) error {
	if worklogID == "" {
		return types.Wrap(types.ErrBadInput, "mark deletion", key.String(), errEmptyWorklogID)
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_deletion (worklog_id, issue_key, requested_at)
			VALUES (?, ?, ?)
			ON CONFLICT(worklog_id) DO UPDATE SET
				issue_key = excluded.issue_key,
				requested_at = excluded.requested_at
		`, worklogID, string(key), formatTime(time.Now()))
		if err != nil {
			return types.Wrap(types.ErrSQL, "mark deletion", worklogID, err)
		}
		return nil
	})
}

// Clear drops the deletion intent for a worklog.
func (r *DeletionRepo) Clear(ctx context.Context, worklogID string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return clearDeletion(ctx, tx, worklogID)
	})
}

// CompleteDeletion removes the cached worklog and its deletion intent in one
// transaction.
func (r *DeletionRepo) CompleteDeletion(ctx context.Context, worklogID string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := deleteWorklog(ctx, tx, worklogID); err != nil {
			return err
		}
		return clearDeletion(ctx, tx, worklogID)
	})
}

// List returns all pending deletions, oldest request first.
func (r *DeletionRepo) List(ctx context.Context) ([]types.PendingDeletion, error) {
	q, err := r.db.reader("list pending deletions")
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT worklog_id, issue_key, requested_at
		FROM pending_deletion
		ORDER BY requested_at ASC, worklog_id ASC
	`)
	if err != nil {
		return nil, types.Wrap(types.ErrSQL, "list pending deletions", "", err)
	}
	defer rows.Close()

	var pending []types.PendingDeletion
	for rows.Next() {
		var p types.PendingDeletion
		var key, requested string
		if err := rows.Scan(&p.WorklogID, &key, &requested); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan pending deletion", "", err)
		}
		p.IssueKey = types.IssueKey(key)
		if p.RequestedAt, err = parseTime(requested); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan pending deletion", p.WorklogID, err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.ErrSQL, "iterate pending deletions", "", err)
	}
	return pending, nil
}

func clearDeletion(ctx context.Context, tx *sql.Tx, worklogID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_deletion WHERE worklog_id = ?`, worklogID); err != nil {
		return types.Wrap(types.ErrSQL, "clear deletion", worklogID, err)
	}
	return nil
}

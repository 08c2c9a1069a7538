package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ncruces/go-sqlite3"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// TimerRepo persists local timers.
type TimerRepo struct {
	db *DB
}

const timerColumns = `id, issue_key, created, started, stopped, synced, comment`

// Start inserts a new running timer and returns its id. The issue row is
// created if missing.
// Returns an error matching types.ErrActiveTimerExists if another timer is
// running.
func (r *TimerRepo) Start(ctx context.Context, timer types.Timer) (int64, error) {
	if timer.IssueKey == "" {
		return 0, types.Wrap(types.ErrBadInput, "start timer", "", errEmptyKey)
	}
	if timer.StoppedAt != nil {
		return 0, types.Wrap(types.ErrBadInput, "start timer", timer.IssueKey.String(), errors.New("timer is already stopped"))
	}
	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = time.Now()
	}

	var id int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := ensureIssue(ctx, tx, timer.IssueKey, ""); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO timer (issue_key, created, started, stopped, synced, comment)
			VALUES (?, ?, ?, NULL, 0, ?)
		`, string(timer.IssueKey), formatTime(timer.CreatedAt), formatTime(timer.StartedAt), timer.Comment)
		if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
			return types.Wrap(types.ErrActiveTimerExists, "start timer", timer.IssueKey.String(), nil)
		}
		if err != nil {
			return types.Wrap(types.ErrSQL, "start timer", timer.IssueKey.String(), err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return types.Wrap(types.ErrSQL, "start timer", timer.IssueKey.String(), err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FindActive returns the running timer.
// Returns an error matching types.ErrNoActiveTimer if none is running.
func (r *TimerRepo) FindActive(ctx context.Context) (types.Timer, error) {
	q, err := r.db.reader("find active timer")
	if err != nil {
		return types.Timer{}, err
	}
	timers, err := queryTimers(ctx, q, `WHERE stopped IS NULL`)
	if err != nil {
		return types.Timer{}, err
	}
	if len(timers) == 0 {
		return types.Timer{}, types.Wrap(types.ErrNoActiveTimer, "find active timer", "", nil)
	}
	return timers[0], nil
}

// StopActive stops the running timer at stopAt. A non-empty comment replaces
// the timer's comment.
// Returns an error matching types.ErrNoActiveTimer if none is running.
func (r *TimerRepo) StopActive(ctx context.Context, stopAt time.Time, comment string) (types.Timer, error) {
	var stopped types.Timer
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		timers, err := queryTimers(ctx, tx, `WHERE stopped IS NULL`)
		if err != nil {
			return err
		}
		if len(timers) == 0 {
			return types.Wrap(types.ErrNoActiveTimer, "stop timer", "", nil)
		}
		stopped = timers[0]
		if stopAt.Before(stopped.StartedAt) {
			return types.Wrap(types.ErrBadInput, "stop timer", stopped.IssueKey.String(),
				errors.New("stop time is before the start time"))
		}
		if comment != "" {
			stopped.Comment = comment
		}
		stopAt = stopAt.Truncate(time.Millisecond)
		stopped.StoppedAt = &stopAt

		_, err = tx.ExecContext(ctx, `UPDATE timer SET stopped = ?, comment = ? WHERE id = ?`,
			formatTime(stopAt), stopped.Comment, stopped.ID)
		if err != nil {
			return types.Wrap(types.ErrSQL, "stop timer", stopped.IssueKey.String(), err)
		}
		return nil
	})
	if err != nil {
		return types.Timer{}, err
	}
	return stopped, nil
}

// FindByIssue returns the timers of an issue, oldest first.
func (r *TimerRepo) FindByIssue(ctx context.Context, key types.IssueKey) ([]types.Timer, error) {
	q, err := r.db.reader("find timers")
	if err != nil {
		return nil, err
	}
	return queryTimers(ctx, q, `WHERE issue_key = ? ORDER BY started ASC, id ASC`, string(key))
}

// FindAfter returns timers started at or after since, oldest first.
func (r *TimerRepo) FindAfter(ctx context.Context, since time.Time) ([]types.Timer, error) {
	q, err := r.db.reader("find timers")
	if err != nil {
		return nil, err
	}
	return queryTimers(ctx, q, `WHERE started >= ? ORDER BY started ASC, id ASC`, formatTime(since))
}

// FindUnsynced returns stopped timers not yet submitted to Jira that were
// started at or after since.
func (r *TimerRepo) FindUnsynced(ctx context.Context, since time.Time) ([]types.Timer, error) {
	q, err := r.db.reader("find unsynced timers")
	if err != nil {
		return nil, err
	}
	return queryTimers(ctx, q,
		`WHERE stopped IS NOT NULL AND synced = 0 AND started >= ? ORDER BY started ASC, id ASC`,
		formatTime(since))
}

// Update overwrites a timer's mutable fields.
func (r *TimerRepo) Update(ctx context.Context, timer types.Timer) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE timer SET started = ?, stopped = ?, synced = ?, comment = ?
			WHERE id = ?
		`, formatTime(timer.StartedAt), timeToNullString(timer.StoppedAt), timer.Synced, timer.Comment, timer.ID)
		if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
			return types.Wrap(types.ErrActiveTimerExists, "update timer", timer.IssueKey.String(), nil)
		}
		if err != nil {
			return types.Wrap(types.ErrSQL, "update timer", timer.IssueKey.String(), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Wrap(types.ErrNotFound, "update timer", timer.IssueKey.String(), nil)
		}
		return nil
	})
}

// MarkSynced flags a timer as submitted.
func (r *TimerRepo) MarkSynced(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE timer SET synced = 1 WHERE id = ?`, id); err != nil {
			return types.Wrap(types.ErrSQL, "mark timer synced", "", err)
		}
		return nil
	})
}

// Delete removes a timer. Deleting an unknown id is not an error.
func (r *TimerRepo) Delete(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM timer WHERE id = ?`, id); err != nil {
			return types.Wrap(types.ErrSQL, "delete timer", "", err)
		}
		return nil
	})
}

func queryTimers(ctx context.Context, q querier, where string, args ...any) ([]types.Timer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+timerColumns+` FROM timer `+where, args...)
	if err != nil {
		return nil, types.Wrap(types.ErrSQL, "query timers", "", err)
	}
	defer rows.Close()

	var timers []types.Timer
	for rows.Next() {
		var t types.Timer
		var key, created, started string
		var stopped sql.NullString

		if err := rows.Scan(&t.ID, &key, &created, &started, &stopped, &t.Synced, &t.Comment); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan timer", "", err)
		}
		t.IssueKey = types.IssueKey(key)

		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan timer", key, err)
		}
		if t.StartedAt, err = parseTime(started); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan timer", key, err)
		}
		if t.StoppedAt, err = nullStringToTime(stopped); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan timer", key, err)
		}

		timers = append(timers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.ErrSQL, "iterate timers", "", err)
	}
	return timers, nil
}

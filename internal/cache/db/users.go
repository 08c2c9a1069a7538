package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ncruces/go-sqlite3"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// UserRepo persists Jira users.
type UserRepo struct {
	db *DB
}

// Add inserts or updates a user keyed by account id.
// Returns an error matching types.ErrBadInput if the email is already taken
// by another account.
func (r *UserRepo) Add(ctx context.Context, user types.User) error {
	if user.AccountID == "" {
		return types.Wrap(types.ErrBadInput, "add user", user.Email, errors.New("account id may not be empty"))
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertUser(ctx, tx, user)
	})
}

// SetCurrent upserts user and flags it as the current user, clearing the
// flag on every other row. The current user comes from Jira, so an older row
// holding the same email gives it up.
func (r *UserRepo) SetCurrent(ctx context.Context, user types.User) error {
	if user.AccountID == "" {
		return types.Wrap(types.ErrBadInput, "set current user", user.Email, errors.New("account id may not be empty"))
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if user.Email != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE jira_user SET email = NULL WHERE email = ? AND account_id <> ?`,
				user.Email, user.AccountID); err != nil {
				return types.Wrap(types.ErrSQL, "release user email", user.Email, err)
			}
		}
		if err := upsertUser(ctx, tx, user); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jira_user SET is_current = 0 WHERE is_current = 1`); err != nil {
			return types.Wrap(types.ErrSQL, "clear current user", "", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jira_user SET is_current = 1 WHERE account_id = ?`, user.AccountID); err != nil {
			return types.Wrap(types.ErrSQL, "set current user", user.AccountID, err)
		}
		return nil
	})
}

// FindCurrent returns the user flagged as current.
// Returns an error matching types.ErrNotFound if no sync has recorded one.
func (r *UserRepo) FindCurrent(ctx context.Context) (types.User, error) {
	return r.findOne(ctx, "find current user", "", `WHERE is_current = 1`)
}

// Find returns a user by account id.
func (r *UserRepo) Find(ctx context.Context, accountID string) (types.User, error) {
	return r.findOne(ctx, "find user", accountID, `WHERE account_id = ?`, accountID)
}

func (r *UserRepo) findOne(ctx context.Context, op, id, where string, args ...any) (types.User, error) {
	q, err := r.db.reader(op)
	if err != nil {
		return types.User{}, err
	}

	var u types.User
	var email sql.NullString
	err = q.QueryRowContext(ctx,
		`SELECT account_id, email, display_name, timezone FROM jira_user `+where, args...,
	).Scan(&u.AccountID, &email, &u.DisplayName, &u.TimeZone)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, types.Wrap(types.ErrNotFound, op, id, nil)
	}
	if err != nil {
		return types.User{}, types.Wrap(types.ErrSQL, op, id, err)
	}
	u.Email = email.String
	return u, nil
}

func upsertUser(ctx context.Context, tx *sql.Tx, user types.User) error {
	query := `
	INSERT INTO jira_user (account_id, email, display_name, timezone)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(account_id) DO UPDATE SET
		email = excluded.email,
		display_name = excluded.display_name,
		timezone = excluded.timezone
	`
	_, err := tx.ExecContext(ctx, query, user.AccountID, nullIfEmpty(user.Email), user.DisplayName, user.TimeZone)
	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
		return types.Wrap(types.ErrBadInput, "upsert user", user.AccountID, err)
	}
	if err != nil {
		return types.Wrap(types.ErrSQL, "upsert user", user.AccountID, err)
	}
	return nil
}

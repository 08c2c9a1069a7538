package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/timesheet-dev/timesheet/internal/types"
)

var (
	errEmptyKey       = errors.New("issue key may not be empty")
	errEmptyWorklogID = errors.New("worklog id may not be empty")
)

// ComponentRepo persists project components and their issue links.
type ComponentRepo struct {
	db *DB
}

// AddForIssue upserts components and links them to the issue. The issue row
// is created if missing. Existing links are kept.
func (r *ComponentRepo) AddForIssue(ctx context.Context, key types.IssueKey, components []types.Component) error {
	if key == "" {
		return types.Wrap(types.ErrBadInput, "add components", "", errEmptyKey)
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := ensureIssue(ctx, tx, key, ""); err != nil {
			return err
		}
		return linkComponents(ctx, tx, key, components)
	})
}

// FindForIssue returns the components linked to an issue, ordered by name.
func (r *ComponentRepo) FindForIssue(ctx context.Context, key types.IssueKey) ([]types.Component, error) {
	q, err := r.db.reader("find components")
	if err != nil {
		return nil, err
	}
	links, err := componentsByIssue(ctx, q, []types.IssueKey{key})
	if err != nil {
		return nil, err
	}
	if comps, ok := links[key]; ok {
		return comps, nil
	}
	return []types.Component{}, nil
}

// Remove deletes a component and, by cascade, its issue links.
func (r *ComponentRepo) Remove(ctx context.Context, id string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM component WHERE id = ?`, id); err != nil {
			return types.Wrap(types.ErrSQL, "remove component", id, err)
		}
		return nil
	})
}

func linkComponents(ctx context.Context, tx *sql.Tx, key types.IssueKey, components []types.Component) error {
	for _, c := range components {
		if c.ID == "" {
			return types.Wrap(types.ErrBadInput, "add component", c.Name, errors.New("component id may not be empty"))
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO component (id, name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name
		`, c.ID, c.Name)
		if err != nil {
			return types.Wrap(types.ErrSQL, "upsert component", c.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO issue_component (issue_key, component_id) VALUES (?, ?)`,
			string(key), c.ID)
		if err != nil {
			return types.Wrap(types.ErrSQL, "link component", c.ID, err)
		}
	}
	return nil
}

// componentsByIssue loads the components of the given issues. An empty key
// list loads all links.
func componentsByIssue(ctx context.Context, q querier, keys []types.IssueKey) (map[types.IssueKey][]types.Component, error) {
	query := `
	SELECT ic.issue_key, c.id, c.name
	FROM issue_component ic
	JOIN component c ON c.id = ic.component_id
	`
	var args []any
	if len(keys) > 0 {
		query += ` WHERE ic.issue_key IN (` + placeholders(len(keys)) + `)`
		args = keyArgs(keys)
	}
	query += ` ORDER BY ic.issue_key ASC, c.name ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.Wrap(types.ErrSQL, "find components", "", err)
	}
	defer rows.Close()

	result := make(map[types.IssueKey][]types.Component)
	for rows.Next() {
		var key string
		var c types.Component
		if err := rows.Scan(&key, &c.ID, &c.Name); err != nil {
			return nil, types.Wrap(types.ErrSQL, "scan component", "", err)
		}
		result[types.IssueKey(key)] = append(result[types.IssueKey(key)], c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Wrap(types.ErrSQL, "iterate components", "", err)
	}
	return result, nil
}

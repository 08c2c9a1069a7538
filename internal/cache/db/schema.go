package db

import (
	"context"

	"github.com/timesheet-dev/timesheet/internal/types"
)

const schemaSQL = `
-- Issues are created lazily the first time a worklog or timer references them
CREATE TABLE IF NOT EXISTS issue (
	issue_key TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS worklog (
	id TEXT PRIMARY KEY,
	issue_key TEXT NOT NULL,
	issue_id TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	author_account_id TEXT NOT NULL DEFAULT '',
	created TEXT NOT NULL,
	updated TEXT NOT NULL,
	started TEXT NOT NULL,
	time_spent TEXT NOT NULL DEFAULT '',
	time_spent_seconds INTEGER NOT NULL CHECK (time_spent_seconds >= 0),
	comment TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (issue_key) REFERENCES issue(issue_key) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS component (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS issue_component (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_key TEXT NOT NULL,
	component_id TEXT NOT NULL,
	UNIQUE (issue_key, component_id),
	FOREIGN KEY (issue_key) REFERENCES issue(issue_key) ON DELETE CASCADE,
	FOREIGN KEY (component_id) REFERENCES component(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS jira_user (
	account_id TEXT PRIMARY KEY,
	email TEXT UNIQUE,  -- NULL when Jira hides it
	display_name TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT '',
	is_current INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS timer (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	issue_key TEXT NOT NULL,
	created TEXT NOT NULL,
	started TEXT NOT NULL,
	stopped TEXT,  -- NULL while running
	synced INTEGER NOT NULL DEFAULT 0,
	comment TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (issue_key) REFERENCES issue(issue_key) ON DELETE CASCADE
);

-- Intermediate state of a two-phase delete
CREATE TABLE IF NOT EXISTS pending_deletion (
	worklog_id TEXT PRIMARY KEY,
	issue_key TEXT NOT NULL,
	requested_at TEXT NOT NULL
);

-- At most one running timer
CREATE UNIQUE INDEX IF NOT EXISTS idx_single_active_timer
	ON timer((stopped IS NULL)) WHERE stopped IS NULL;

CREATE INDEX IF NOT EXISTS idx_worklog_issue_started ON worklog(issue_key, started);
CREATE INDEX IF NOT EXISTS idx_worklog_started ON worklog(started);
CREATE INDEX IF NOT EXISTS idx_worklog_author ON worklog(author_account_id);
CREATE INDEX IF NOT EXISTS idx_timer_issue ON timer(issue_key);
CREATE INDEX IF NOT EXISTS idx_issue_component_component ON issue_component(component_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jira_user_current
	ON jira_user(is_current) WHERE is_current = 1;
`

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if db.poisoned.Load() {
		return types.Wrap(types.ErrLockPoisoned, "initialize schema", db.path, nil)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return types.Wrap(types.ErrSQL, "initialize schema", db.path, err)
	}
	return nil
}

// Package db is the repository layer of the local worklog cache.
//
// The cache is an embedded SQLite database (ncruces/go-sqlite3, WAL mode)
// holding a derived, rebuildable projection of Jira worklogs together with
// the local-only timer table.
//
// Architecture:
//   - Database file: $XDG_CACHE_HOME/timesheet/timesheet.db (config key "database")
//   - WAL mode: readers see committed snapshots while a write is in progress
//   - Writes: serialized through one mutex, one transaction per operation
//   - Schema: issue, worklog, component, issue_component, jira_user, timer,
//     pending_deletion
//
// Every error returned from this package matches types.ErrSQL,
// types.ErrBadInput or types.ErrLockPoisoned with errors.Is.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/timesheet-dev/timesheet/internal/types"
)

// DB is the shared handle to the cache database.
//
// Writes are serialized by mu. If a write transaction panics the handle is
// marked poisoned and every later call fails with types.ErrLockPoisoned.
type DB struct {
	conn     *sql.DB
	path     string
	mu       sync.Mutex
	poisoned atomic.Bool

	issues     *IssueRepo
	worklogs   *WorklogRepo
	components *ComponentRepo
	users      *UserRepo
	timers     *TimerRepo
	deletions  *DeletionRepo
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if needed) the cache database at path and initializes
// the schema.
//
// Foreign keys, WAL and the busy timeout are set on every pooled connection
// through the DSN. Open fails if PRAGMA foreign_keys does not report 1.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := db.Open(ctx, "/home/me/.local/share/timesheet/worklog.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(ctx context.Context, path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, types.Wrap(types.ErrSQL, "create database directory", dir, err)
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, types.Wrap(types.ErrSQL, "open database", path, err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, types.Wrap(types.ErrSQL, "ping database", path, err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}
	db.issues = &IssueRepo{db: db}
	db.worklogs = &WorklogRepo{db: db}
	db.components = &ComponentRepo{db: db}
	db.users = &UserRepo{db: db}
	db.timers = &TimerRepo{db: db}
	db.deletions = &DeletionRepo{db: db}

	var fk int
	if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		_ = db.Close()
		return nil, types.Wrap(types.ErrSQL, "read foreign_keys pragma", path, err)
	}
	if fk != 1 {
		_ = db.Close()
		return nil, types.Wrap(types.ErrSQL, "enable foreign keys", path,
			fmt.Errorf("PRAGMA foreign_keys = %d, want 1", fk))
	}

	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// dsn builds the connection string. Pragmas are applied by the driver to
// each new connection in the pool.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "synchronous(normal)")
	return "file:" + path + "?" + q.Encode()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Issues returns the issue repository.
func (db *DB) Issues() *IssueRepo { return db.issues }

// Worklogs returns the worklog repository.
func (db *DB) Worklogs() *WorklogRepo { return db.worklogs }

// Components returns the component repository.
func (db *DB) Components() *ComponentRepo { return db.components }

// Users returns the user repository.
func (db *DB) Users() *UserRepo { return db.users }

// Timers returns the timer repository.
func (db *DB) Timers() *TimerRepo { return db.timers }

// Deletions returns the pending deletion repository.
func (db *DB) Deletions() *DeletionRepo { return db.deletions }

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if !db.poisoned.Load() {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return types.Wrap(types.ErrSQL, "close database", db.path, err)
	}

	db.conn = nil
	return nil
}

// Poisoned reports whether an earlier write transaction panicked.
func (db *DB) Poisoned() bool {
	return db.poisoned.Load()
}

// WithTx runs fn inside a write transaction.
//
// The write lock is held for the duration of fn and released before WithTx
// returns. fn must not perform network I/O. If fn returns an error the
// transaction is rolled back and the error returned unchanged. If fn panics
// the transaction is rolled back, the handle is poisoned and the panic
// propagates.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if db.poisoned.Load() {
		return types.Wrap(types.ErrLockPoisoned, "begin transaction", db.path, nil)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn == nil {
		return types.Wrap(types.ErrSQL, "begin transaction", db.path, sql.ErrConnDone)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return types.Wrap(types.ErrSQL, "begin transaction", "", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if r := recover(); r != nil {
			_ = tx.Rollback()
			db.poisoned.Store(true)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		committed = true
		return err
	}

	committed = true
	if err := tx.Commit(); err != nil {
		return types.Wrap(types.ErrSQL, "commit transaction", "", err)
	}
	return nil
}

// reader returns the connection pool for read-only queries.
func (db *DB) reader(op string) (querier, error) {
	if db.poisoned.Load() {
		return nil, types.Wrap(types.ErrLockPoisoned, op, "", nil)
	}
	if db.conn == nil {
		return nil, types.Wrap(types.ErrSQL, op, "", sql.ErrConnDone)
	}
	return db.conn, nil
}

// Purge removes every cached row. The schema is kept.
func (db *DB) Purge(ctx context.Context) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"pending_deletion", "timer", "issue_component", "worklog", "component", "issue", "jira_user"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return types.Wrap(types.ErrSQL, "purge", table, err)
			}
		}
		return nil
	})
}

// Stats is a row count per table.
type Stats struct {
	Issues     int
	Worklogs   int
	Components int
	Users      int
	Timers     int
	Pending    int
}

// GetStats returns row counts for every table.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	q, err := db.reader("stats")
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"issue", &s.Issues},
		{"worklog", &s.Worklogs},
		{"component", &s.Components},
		{"jira_user", &s.Users},
		{"timer", &s.Timers},
		{"pending_deletion", &s.Pending},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return Stats{}, types.Wrap(types.ErrSQL, "count rows", c.table, err)
		}
	}
	return s, nil
}

// timeLayout is fixed width so that text comparison orders instants.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// formatTime converts t to the stored representation (UTC).
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime converts a stored timestamp to local time.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t.In(time.Local), nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullIfEmpty maps "" to SQL NULL.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

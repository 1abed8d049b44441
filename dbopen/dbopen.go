// CLAUDE:SUMMARY Opens SQLite databases (modernc driver) with per-connection pragmas in the DSN and versioned migrations tracked by PRAGMA user_version.
// Package dbopen opens the SQLite databases docstream keeps, currently the
// fetch cache.
//
// Pragmas travel in the DSN so that every pooled connection gets them, not
// only the first one:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Schemas are ordered migration steps. PRAGMA user_version records how many
// have run; Open applies the rest in one transaction.
//
//	db, err := dbopen.Open("cache.db", dbopen.WithMkdirAll(), dbopen.WithMigrations(steps...))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithMigrations(steps...))
package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

// ErrSchemaTooNew is returned when a database was migrated by a newer
// build than the running one.
var ErrSchemaTooNew = errors.New("dbopen: database schema is newer than this build")

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	migrations  []string
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: NORMAL.
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithMigrations sets the ordered schema steps. Steps are append-only: a
// released step is never edited, a change is a new step.
func WithMigrations(steps ...string) Option {
	return func(c *config) { c.migrations = steps }
}

// dsn builds the modernc DSN carrying the pragmas.
func dsn(path string, cfg config) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout))
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", cfg.synchronous))
	return path + "?" + q.Encode()
}

// Open opens the SQLite database at path and brings its schema up to date.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := Migrate(context.Background(), db, cfg.migrations...); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs the steps the database has not seen yet and records the new
// version. It is safe to call on every start.
func Migrate(ctx context.Context, db *sql.DB, steps ...string) error {
	if len(steps) == 0 {
		return nil
	}
	return RunTx(ctx, db, func(tx *sql.Tx) error {
		var version int
		if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
			return fmt.Errorf("dbopen: read user_version: %w", err)
		}
		if version > len(steps) {
			return fmt.Errorf("%w (version %d, known %d)", ErrSchemaTooNew, version, len(steps))
		}
		for i := version; i < len(steps); i++ {
			if _, err := tx.ExecContext(ctx, steps[i]); err != nil {
				return fmt.Errorf("dbopen: migration %d: %w", i+1, err)
			}
		}
		if version == len(steps) {
			return nil
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", len(steps))); err != nil {
			return fmt.Errorf("dbopen: set user_version: %w", err)
		}
		return nil
	})
}

// OpenMemory opens an in-memory database closed on test cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// busyAttempts bounds the retries of a statement that hits a lock. The
// backoff grows linearly from busyBackoff.
const (
	busyAttempts = 3
	busyBackoff  = 100 * time.Millisecond
)

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// extended codes and errors that only carry the driver's message.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// onBusy runs op until it succeeds, fails with a non-busy error, or the
// attempts run out.
func onBusy(ctx context.Context, what string, op func() error) error {
	var err error
	for i := range busyAttempts {
		if err = op(); err == nil || !IsBusy(err) {
			return err
		}
		if i == busyAttempts-1 {
			break
		}
		t := time.NewTimer(time.Duration(i+1) * busyBackoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("dbopen: %s: %w", what, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("dbopen: %s: still busy after %d attempts: %w", what, busyAttempts, err)
}

// RunTx runs fn in a transaction, retrying the whole transaction while the
// database is busy.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return onBusy(ctx, "tx", func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

// Exec runs a statement, retrying while the database is busy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := onBusy(ctx, "exec", func() error {
		var err error
		res, err = db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

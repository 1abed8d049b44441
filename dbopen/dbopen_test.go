package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hazyhaar/docstream/dbopen"
)

func pragma(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	var v string
	if err := db.QueryRow("PRAGMA " + name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	// WHAT: Pragmas hold on each pooled connection, not only the first.
	// WHY: A second connection without busy_timeout fails at once on lock.
	path := filepath.Join(t.TempDir(), "p.db")
	db, err := dbopen.Open(path, dbopen.WithBusyTimeout(4321))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	c1, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	c2, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	for i, c := range []*sql.Conn{c1, c2} {
		var bt, fk int
		var mode string
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&bt); err != nil {
			t.Fatal(err)
		}
		if err := c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatal(err)
		}
		if err := c.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatal(err)
		}
		if bt != 4321 || fk != 1 || mode != "wal" {
			t.Errorf("conn %d: busy_timeout=%d foreign_keys=%d journal_mode=%s", i, bt, fk, mode)
		}
	}
}

func TestOpen_Synchronous(t *testing.T) {
	if got := pragma(t, dbopen.OpenMemory(t), "synchronous"); got != "1" {
		t.Errorf("default synchronous = %s, want 1 (NORMAL)", got)
	}
	if got := pragma(t, dbopen.OpenMemory(t, dbopen.WithSynchronous("FULL")), "synchronous"); got != "2" {
		t.Errorf("synchronous = %s, want 2 (FULL)", got)
	}
}

func TestOpen_MkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "nested", "fetch.db")
	if _, err := dbopen.Open(path); err == nil {
		t.Fatal("expected error without WithMkdirAll")
	}
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}
}

var steps = []string{
	`CREATE TABLE docs (id TEXT PRIMARY KEY)`,
	`ALTER TABLE docs ADD COLUMN title TEXT NOT NULL DEFAULT ''`,
}

func TestMigrations_Incremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")

	db, err := dbopen.Open(path, dbopen.WithMigrations(steps[:1]...))
	if err != nil {
		t.Fatal(err)
	}
	if got := pragma(t, db, "user_version"); got != "1" {
		t.Fatalf("user_version = %s, want 1", got)
	}
	db.Exec(`INSERT INTO docs (id) VALUES ('a')`)
	db.Close()

	// Reopening runs only the new step; rerunning step 1 would fail.
	db, err = dbopen.Open(path, dbopen.WithMigrations(steps...))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if got := pragma(t, db, "user_version"); got != "2" {
		t.Fatalf("user_version = %s, want 2", got)
	}
	var title string
	if err := db.QueryRow(`SELECT title FROM docs WHERE id = 'a'`).Scan(&title); err != nil {
		t.Fatal(err)
	}

	if err := dbopen.Migrate(context.Background(), db, steps...); err != nil {
		t.Fatalf("idempotent migrate: %v", err)
	}
}

func TestMigrations_TooNew(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithMigrations(steps...))
	err := dbopen.Migrate(context.Background(), db, steps[:1]...)
	if !errors.Is(err, dbopen.ErrSchemaTooNew) {
		t.Fatalf("err = %v, want ErrSchemaTooNew", err)
	}
}

func TestMigrations_FailedStepRollsBack(t *testing.T) {
	db := dbopen.OpenMemory(t)
	err := dbopen.Migrate(context.Background(), db,
		`CREATE TABLE ok (id INTEGER)`,
		`THIS IS NOT SQL`,
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := pragma(t, db, "user_version"); got != "0" {
		t.Errorf("user_version = %s after failed migration", got)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'ok'`).Scan(&n)
	if n != 0 {
		t.Error("first step survived the rollback")
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table: docs"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithMigrations(steps[0]))
	ctx := context.Background()

	if err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO docs (id) VALUES ('1')`)
		return err
	}); err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	sentinel := errors.New("rollback me")
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO docs (id) VALUES ('2')`)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunTx error = %v, want sentinel", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM docs`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := dbopen.RunTx(cancelled, db, func(*sql.Tx) error { return nil }); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestExec_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	db, err := dbopen.Open(path, dbopen.WithMigrations(`CREATE TABLE hits (n INTEGER)`))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO hits (n) VALUES (?)`, i); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM hits`).Scan(&n)
	if n != 20 {
		t.Fatalf("rows = %d, want 20", n)
	}
}

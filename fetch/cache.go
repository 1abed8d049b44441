package fetch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/docstream/dbopen"
)

var cacheMigrations = []string{
	`CREATE TABLE IF NOT EXISTS fetch_cache (
		url           TEXT PRIMARY KEY,
		etag          TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT '',
		content_type  TEXT NOT NULL DEFAULT '',
		hash          TEXT NOT NULL,
		body          BLOB NOT NULL,
		fetched_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS fetch_cache_fetched_at ON fetch_cache (fetched_at)`,
}

// Entry is a cached response with its validators.
type Entry struct {
	URL          string
	ETag         string
	LastModified string
	ContentType  string
	Hash         string
	Body         []byte
	FetchedAt    time.Time
}

// Cache stores responses in SQLite for conditional GET.
type Cache struct {
	db    *sql.DB
	owned bool
}

// OpenCache opens (or creates) a cache database at path. opts tune the
// connection pragmas; the schema is always the cache's own.
func OpenCache(path string, opts ...dbopen.Option) (*Cache, error) {
	opts = append(opts, dbopen.WithMkdirAll(), dbopen.WithMigrations(cacheMigrations...))
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetch: open cache: %w", err)
	}
	return &Cache{db: db, owned: true}, nil
}

// NewCache migrates db for caching. The database must be dedicated to the
// cache: its user_version tracks the cache schema.
func NewCache(db *sql.DB) (*Cache, error) {
	if err := dbopen.Migrate(context.Background(), db, cacheMigrations...); err != nil {
		return nil, fmt.Errorf("fetch: cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the entry for url, or nil when absent.
func (c *Cache) Get(ctx context.Context, url string) (*Entry, error) {
	var e Entry
	var fetchedAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT url, etag, last_modified, content_type, hash, body, fetched_at
		 FROM fetch_cache WHERE url = ?`, url,
	).Scan(&e.URL, &e.ETag, &e.LastModified, &e.ContentType, &e.Hash, &e.Body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch: cache get: %w", err)
	}
	e.FetchedAt = time.UnixMilli(fetchedAt)
	return &e, nil
}

// Put inserts or replaces the entry for e.URL.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now()
	}
	_, err := dbopen.Exec(ctx, c.db,
		`INSERT INTO fetch_cache (url, etag, last_modified, content_type, hash, body, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			content_type = excluded.content_type,
			hash = excluded.hash,
			body = excluded.body,
			fetched_at = excluded.fetched_at`,
		e.URL, e.ETag, e.LastModified, e.ContentType, e.Hash, e.Body, e.FetchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("fetch: cache put: %w", err)
	}
	return nil
}

// Prune deletes entries fetched before cutoff and returns how many were
// removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := dbopen.RunTx(ctx, c.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM fetch_cache WHERE fetched_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetch: cache prune: %w", err)
	}
	return n, nil
}

// Close closes the database when the cache opened it.
func (c *Cache) Close() error {
	if c.owned {
		return c.db.Close()
	}
	return nil
}

// CLAUDE:SUMMARY Remote document retrieval: HTTP conditional GET with SSRF-checked redirects and retries, SQLite validator cache, s3:// objects, rendered pages.
// Package fetch retrieves remote documents for extraction.
//
// Supported schemes: http and https (conditional GET, optional SQLite
// cache, optional headless-browser rendering) and s3 (s3://bucket/key).
package fetch

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/docstream/horosafe"
)

var (
	// ErrUnsupportedScheme is returned for URLs the fetcher cannot retrieve.
	ErrUnsupportedScheme = errors.New("fetch: unsupported url scheme")
	// ErrBlocked is returned when URL validation rejects a target.
	ErrBlocked = errors.New("fetch: url blocked")
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("fetch: http %d", e.Code) }

// Result contains the outcome of a fetch.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string // declared media type
	URL         string // final URL after redirects
	Hash        string // SHA-256 of body
	ETag        string // from response header
	LastMod     string // from response header
	Changed     bool   // true if content is new/different
}

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration // Per-request timeout. Default: 60s.
	MaxBytes int64         // Max body size. Default: 100MB.
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch and on every redirect (SSRF
	// prevention). Default: horosafe.ValidateURL.
	URLValidator func(string) error
	// MaxRetries bounds retries on transport errors and 5xx/429. Default: 2.
	MaxRetries int
	// Cache stores validators and bodies for conditional GET. Optional.
	Cache *Cache
	// Render loads http(s) pages in a headless browser and returns the
	// rendered DOM instead of the raw response.
	Render bool
	// BrowserURL connects to a running browser (DevTools websocket) instead
	// of launching one.
	BrowserURL string
	// S3Region and S3Endpoint configure the S3 client. The endpoint is for
	// S3-compatible stores and switches to path-style addressing.
	S3Region   string
	S3Endpoint string
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 100 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "docstream/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher retrieves documents by URL. Safe for concurrent use; the S3
// client and the browser are created on first use.
type Fetcher struct {
	client *http.Client
	config Config

	s3Once sync.Once
	s3     *s3.Client
	s3Err  error

	browserMu sync.Mutex
	browser   *rod.Browser
	lnch      *launcher.Launcher
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("%w: redirect: %v", ErrBlocked, err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch retrieves rawURL according to its scheme.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if f.config.Render {
			return f.render(ctx, rawURL)
		}
		return f.fetchHTTP(ctx, rawURL)
	case "s3":
		return f.fetchS3(ctx, u)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// fetchHTTP runs a conditional GET against the cache when one is set.
func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (*Result, error) {
	var cached *Entry
	if f.config.Cache != nil {
		e, err := f.config.Cache.Get(ctx, rawURL)
		if err != nil {
			f.config.Logger.Warn("fetch: cache lookup failed", "url", rawURL, "error", err)
		}
		cached = e
	}

	var etag, lastMod, prevHash string
	if cached != nil {
		etag, lastMod, prevHash = cached.ETag, cached.LastModified, cached.Hash
	}
	res, err := f.Conditional(ctx, rawURL, etag, lastMod, prevHash)
	if err != nil {
		return nil, err
	}

	if res.StatusCode == http.StatusNotModified {
		if cached == nil {
			return nil, &StatusError{Code: res.StatusCode}
		}
		f.config.Logger.Debug("fetch: not modified, serving cached body", "url", rawURL)
		res.Body = cached.Body
		res.Hash = cached.Hash
		res.ContentType = cached.ContentType
		return res, nil
	}

	if f.config.Cache != nil && (res.ETag != "" || res.LastMod != "") {
		err := f.config.Cache.Put(ctx, Entry{
			URL:          rawURL,
			ETag:         res.ETag,
			LastModified: res.LastMod,
			ContentType:  res.ContentType,
			Hash:         res.Hash,
			Body:         res.Body,
		})
		if err != nil {
			f.config.Logger.Warn("fetch: cache store failed", "url", rawURL, "error", err)
		}
	}
	return res, nil
}

// Conditional retrieves a URL. If etag or lastMod are provided, sends
// conditional headers and returns Changed=false on 304 Not Modified.
// If prevHash is provided and body hash matches, also returns Changed=false.
func (f *Fetcher) Conditional(ctx context.Context, rawURL, etag, lastMod, prevHash string) (*Result, error) {
	if err := f.config.URLValidator(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlocked, err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*250*time.Millisecond); err != nil {
				return nil, err
			}
			f.config.Logger.Debug("fetch: retrying", "url", rawURL, "attempt", attempt, "error", lastErr)
		}
		res, err := f.get(ctx, rawURL, etag, lastMod, prevHash)
		if err == nil {
			return res, nil
		}
		if !retryable(ctx, err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (f *Fetcher) get(ctx context.Context, rawURL, etag, lastMod, prevHash string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: http get: %w", err)
	}
	defer resp.Body.Close()

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	if resp.StatusCode == http.StatusNotModified {
		return &Result{
			StatusCode: http.StatusNotModified,
			URL:        final,
			ETag:       resp.Header.Get("ETag"),
			LastMod:    resp.Header.Get("Last-Modified"),
		}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	hash := hashBody(body)
	return &Result{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		URL:         final,
		Hash:        hash,
		ETag:        resp.Header.Get("ETag"),
		LastMod:     resp.Header.Get("Last-Modified"),
		Changed:     prevHash == "" || hash != prevHash,
	}, nil
}

// Close releases the browser, if one was started.
func (f *Fetcher) Close() error {
	f.browserMu.Lock()
	defer f.browserMu.Unlock()
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.lnch != nil {
		f.lnch.Cleanup()
		f.lnch = nil
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrBlocked) || errors.Is(err, horosafe.ErrTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

func hashBody(b []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CLAUDE:SUMMARY HTTP surface over docpipe: chi router, streaming extraction with a metadata trailer, detect/formats/health, API key auth and per-client rate limiting.
// Package httpapi serves document extraction over HTTP.
//
// Routes:
//
//	GET  /health        liveness, never authenticated
//	GET  /v1/formats    supported formats
//	POST /v1/detect     format detection
//	POST /v1/extract    extraction, streamed or as one JSON document
//
// The document is the raw request body, a multipart "file" field, or a
// url/path query parameter when the server allows those.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/docstream/docpipe"
)

// Config configures the server. The zero value serves on :8080 with no
// authentication, uploads only.
type Config struct {
	Addr string
	// APIKeys lists accepted keys by bcrypt hash. Empty disables auth.
	APIKeys []APIKey
	// MaxUploadBytes bounds request bodies. Default 256 MiB.
	MaxUploadBytes int64
	// AllowURLs enables the url query parameter.
	AllowURLs bool
	// FileRoot enables the path query parameter, confined to this directory.
	FileRoot string
	// RateLimit is requests per RateWindow per client. 0 disables limiting.
	RateLimit  int
	RateWindow time.Duration
	// TrustProxy takes the client address from X-Forwarded-For, X-Real-IP
	// or True-Client-IP. Enable only behind a proxy that sets them.
	TrustProxy bool
	// ShutdownTimeout bounds the graceful drain. Default 30s.
	ShutdownTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 256 << 20
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Server is the HTTP front of an Extractor.
type Server struct {
	ex      docpipe.Extractor
	cfg     Config
	logger  *slog.Logger
	keys    *keyring
	limiter *rateLimiter
}

// New returns a server extracting with ex. A nil logger uses slog.Default.
func New(ex docpipe.Extractor, cfg Config, logger *slog.Logger) (*Server, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	keys, err := newKeyring(cfg.APIKeys)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ex:     ex.WithLogger(logger),
		cfg:    cfg,
		logger: logger,
		keys:   keys,
	}
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, cfg.RateWindow)
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(headToGet)
	r.Use(securityHeaders)
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Get("/formats", s.handleFormats)
		r.Post("/detect", s.handleDetect)
		r.Post("/extract", s.handleExtract)
	})
	return r
}

// ListenAndServe serves until ctx ends, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("httpapi: listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/docstream/idgen"
	"github.com/hazyhaar/docstream/kit"
)

// headToGet lets GET routes answer HEAD; net/http drops the body.
func headToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders sets the headers every API response carries. Responses
// are data, never pages, so nothing may be framed or sniffed.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

var requestIDs = idgen.Prefixed("req_", idgen.Random(12))

// requestID tags the request context with an ID, echoed in X-Request-ID.
// A well-formed client-supplied ID is kept.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = requestIDs()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, id)
		ctx = kit.WithRemoteAddr(ctx, clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validRequestID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		if !(c == '-' || c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// statusWriter records the response status and size for the access log.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		ctx := r.Context()
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"bytes", sw.bytes,
			"duration", time.Since(start),
			"request_id", kit.GetRequestID(ctx),
			"remote_addr", kit.GetRemoteAddr(ctx),
		}
		if sw.status >= 500 {
			s.logger.WarnContext(ctx, "httpapi: request", attrs...)
		} else {
			s.logger.InfoContext(ctx, "httpapi: request", attrs...)
		}
	})
}

// clientIP is the peer address. Behind a trusted proxy, chi's RealIP has
// already rewritten RemoteAddr from the forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimiter is a token bucket per client, keyed by API key ID when
// authenticated and by IP otherwise. Each bucket holds limit tokens and
// refills over window.
type rateLimiter struct {
	every rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*client
	lastGC  time.Time
}

type client struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		idle:    window,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// allow reports whether key may proceed and, if not, how long until it
// may.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Sub(rl.lastGC) > rl.idle {
		// A client idle for a whole window is back to a full bucket.
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) >= rl.idle {
				delete(rl.clients, k)
			}
		}
		rl.lastGC = now
	}

	c, ok := rl.clients[key]
	if !ok {
		c = &client{lim: rate.NewLimiter(rl.every, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	res := c.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, rl.idle
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := "ip:" + kit.GetRemoteAddr(ctx)
		if id := kit.GetKeyID(ctx); id != "" {
			key = "key:" + id
		}
		ok, wait := rl.allow(key)
		if !ok {
			secs := int((wait + time.Second - 1) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate_limited", fmt.Errorf("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

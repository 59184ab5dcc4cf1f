// Package ratelimit bounds request volume per key within a fixed window.
//
// The counter state lives behind the CounterStore interface so the limiter's
// correctness does not depend on process topology: single-instance deployments
// use the in-memory store, horizontally scaled ones can plug in a shared one.
// The fixed-window shape means a client can burst up to twice the limit across
// a window boundary; that is accepted, the limiter damps abuse rather than
// enforcing strict fairness.
package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"peopledesk.org/internal/auth"
	"peopledesk.org/internal/obs"
)

// CounterStore tracks per-key request counts within fixed windows. Allow must
// decide and count atomically; Forgive undoes one count for courtesy
// accounting when only failed requests should spend budget.
type CounterStore interface {
	Allow(key string, now time.Time, window time.Duration, max int) (ok bool, remaining int, reset time.Time)
	Forgive(key string, now time.Time)
}

// Config controls one Limiter.
type Config struct {
	// Window is the fixed accounting window.
	Window time.Duration
	// MaxRequests is the budget per key per window.
	MaxRequests int
	// KeyFunc derives the accounting key from a request. Defaults to the
	// authenticated user id when present, else the client IP.
	KeyFunc func(*http.Request) string
	// SkipSuccessful refunds one count when the response status is below 400,
	// so only failed or rejected requests spend budget.
	SkipSuccessful bool
}

// Limiter is the fixed-window rate limiter middleware.
type Limiter struct {
	store CounterStore
	cfg   Config
	now   func() time.Time
}

// New constructs a Limiter over the given store.
func New(store CounterStore, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = DefaultKey
	}
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

// WithClock overrides the limiter's time source. Test use only.
func (l *Limiter) WithClock(fn func() time.Time) *Limiter {
	if fn != nil {
		l.now = fn
	}
	return l
}

// Middleware enforces the limit and stamps X-RateLimit headers on every
// response that passes through it.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.cfg.KeyFunc(r)
		now := l.now()

		ok, remaining, reset := l.store.Allow(key, now, l.cfg.Window, l.cfg.MaxRequests)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.MaxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			retryAfter := int(time.Until(reset)/time.Second) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			obs.RecordRateLimited()
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   "rate limit exceeded",
				"code":    "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		if !l.cfg.SkipSuccessful {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		if sw.code < http.StatusBadRequest {
			l.store.Forgive(key, l.now())
		}
	})
}

// DefaultKey keys by authenticated user id when the middleware runs after
// authentication, else by client IP.
func DefaultKey(r *http.Request) string {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + userID
	}
	return "ip:" + ClientIP(r)
}

// ClientIP extracts the originating address, honoring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// MemoryStore keeps fixed-window counters in process memory. Stale windows
// are evicted lazily on access plus one full sweep per window length, so no
// background goroutine is required.
type MemoryStore struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

type window struct {
	start time.Time
	count int
}

// NewMemoryStore constructs an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window)}
}

// Allow implements CounterStore.
func (s *MemoryStore) Allow(key string, now time.Time, windowLen time.Duration, max int) (bool, int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now, windowLen)

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= windowLen {
		w = &window{start: now}
		s.windows[key] = w
	}
	reset := w.start.Add(windowLen)
	if w.count >= max {
		return false, 0, reset
	}
	w.count++
	return true, max - w.count, reset
}

// Forgive implements CounterStore.
func (s *MemoryStore) Forgive(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[key]; ok && w.count > 0 {
		w.count--
	}
}

// sweep drops expired windows at most once per window length, bounding memory
// under low traffic with many distinct keys. Callers hold the mutex.
func (s *MemoryStore) sweep(now time.Time, windowLen time.Duration) {
	if now.Sub(s.lastSweep) < windowLen {
		return
	}
	s.lastSweep = now
	for key, w := range s.windows {
		if now.Sub(w.start) >= windowLen {
			delete(s.windows, key)
		}
	}
}

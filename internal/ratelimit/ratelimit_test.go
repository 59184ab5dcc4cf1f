package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current }, func(d time.Duration) { current = current.Add(d) }
}

func newTestLimiter(cfg Config, now func() time.Time) *Limiter {
	return New(NewMemoryStore(), cfg).WithClock(now)
}

func doRequest(handler http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = ip + ":1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestFixedWindowSequence(t *testing.T) {
	now, _ := fixedClock(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(Config{Window: time.Minute, MaxRequests: 3}, now)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	want := []int{200, 200, 200, 429}
	for i, expected := range want {
		rr := doRequest(handler, "10.0.0.1")
		if rr.Code != expected {
			t.Fatalf("request %d: expected %d, got %d", i+1, expected, rr.Code)
		}
	}
}

func TestWindowResetRestoresBudget(t *testing.T) {
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	now, advance := fixedClock(start)
	limiter := newTestLimiter(Config{Window: time.Minute, MaxRequests: 3}, now)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 4; i++ {
		doRequest(handler, "10.0.0.1")
	}

	advance(61 * time.Second)
	rr := doRequest(handler, "10.0.0.1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after window elapsed, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining reset to max-1, got %s", got)
	}
}

func TestRateLimitHeaders(t *testing.T) {
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	now, _ := fixedClock(start)
	limiter := newTestLimiter(Config{Window: time.Minute, MaxRequests: 3}, now)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := doRequest(handler, "10.0.0.1")
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Fatalf("limit header: %s", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("remaining header: %s", got)
	}
	wantReset := strconv.FormatInt(start.Add(time.Minute).Unix(), 10)
	if got := rr.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Fatalf("reset header: got %s want %s", got, wantReset)
	}

	for i := 0; i < 3; i++ {
		rr = doRequest(handler, "10.0.0.1")
	}
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	now, _ := fixedClock(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(Config{Window: time.Minute, MaxRequests: 1}, now)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if rr := doRequest(handler, "10.0.0.1"); rr.Code != http.StatusOK {
		t.Fatalf("first key: %d", rr.Code)
	}
	if rr := doRequest(handler, "10.0.0.2"); rr.Code != http.StatusOK {
		t.Fatalf("second key should have its own budget: %d", rr.Code)
	}
	if rr := doRequest(handler, "10.0.0.1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("first key should be exhausted: %d", rr.Code)
	}
}

func TestSkipSuccessfulRefundsBudget(t *testing.T) {
	now, _ := fixedClock(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	limiter := newTestLimiter(Config{Window: time.Minute, MaxRequests: 2, SkipSuccessful: true}, now)

	status := http.StatusOK
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	// Successful requests are refunded, so far more than MaxRequests pass.
	for i := 0; i < 10; i++ {
		if rr := doRequest(handler, "10.0.0.1"); rr.Code != http.StatusOK {
			t.Fatalf("successful request %d consumed budget: %d", i+1, rr.Code)
		}
	}

	// Failures spend budget for real.
	status = http.StatusUnauthorized
	want := []int{401, 401, 429}
	for i, expected := range want {
		rr := doRequest(handler, "10.0.0.1")
		if rr.Code != expected {
			t.Fatalf("failed request %d: expected %d, got %d", i+1, expected, rr.Code)
		}
	}
}

func TestClientIPHonorsForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("ClientIP: %s", got)
	}
	req.Header.Del("X-Forwarded-For")
	if got := ClientIP(req); got != "127.0.0.1" {
		t.Fatalf("ClientIP without XFF: %s", got)
	}
}

func TestMemoryStoreSweepEvictsStaleWindows(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		store.Allow("key-"+strconv.Itoa(i), base, time.Minute, 5)
	}

	// Two window lengths later a single access sweeps everything stale.
	store.Allow("fresh", base.Add(2*time.Minute), time.Minute, 5)
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.windows) != 1 {
		t.Fatalf("expected stale windows evicted, have %d", len(store.windows))
	}
}

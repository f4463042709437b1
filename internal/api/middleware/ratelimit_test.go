package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testLimiter(t *testing.T, burst int, maxAge time.Duration) *IPRateLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewIPRateLimiter(ctx, RateLimitConfig{
		Rate:            rate.Limit(0.001),
		Burst:           burst,
		CleanupInterval: time.Hour,
		MaxAge:          maxAge,
	})
}

func TestIPRateLimiterAllow(t *testing.T) {
	rl := testLimiter(t, 2, time.Hour)

	for i := 0; i < 2; i++ {
		if !rl.Allow("198.51.100.1") {
			t.Fatalf("request %d rejected within burst", i+1)
		}
	}
	if rl.Allow("198.51.100.1") {
		t.Fatal("request over burst allowed")
	}
	if !rl.Allow("198.51.100.2") {
		t.Fatal("other client rejected")
	}
}

func TestIPRateLimiterCleanup(t *testing.T) {
	rl := testLimiter(t, 1, 0)
	rl.Allow("198.51.100.1")
	rl.cleanup()

	rl.mu.Lock()
	n := len(rl.entries)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("entries after cleanup = %d, want 0", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimit(testLimiter(t, 1, time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/federation/incoming/request", nil)
	req.RemoteAddr = "198.51.100.7:40000"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}

func TestClientIP(t *testing.T) {
	for addr, want := range map[string]string{
		"192.0.2.1:8080": "192.0.2.1",
		"[::1]:8080":     "::1",
		"192.0.2.9":      "192.0.2.9",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		if got := clientIP(r); got != want {
			t.Errorf("clientIP(%q) = %q, want %q", addr, got, want)
		}
	}
}

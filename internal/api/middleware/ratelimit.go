package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/uuru/uuru/internal/api/respond"
)

// RateLimitConfig configures per-client rate limiting.
type RateLimitConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration // idle limiters older than this are evicted
}

// PartnerRateLimitConfig limits the unauthenticated federation endpoints
// partners call: one request per second with a burst of five.
func PartnerRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           5,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// LoginRateLimitConfig limits password logins.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(2),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	cfg     RateLimitConfig
}

// NewIPRateLimiter creates a limiter. Stale entries are evicted until ctx
// is done.
func NewIPRateLimiter(ctx context.Context, cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		entries: make(map[string]*limiterEntry),
		cfg:     cfg,
	}
	go rl.cleanupLoop(ctx)
	return rl
}

// Allow reports whether a request from ip may proceed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	e, ok := rl.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.entries[ip] = e
	}
	e.lastSeen = time.Now()
	rl.mu.Unlock()

	return e.limiter.Allow()
}

func (rl *IPRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *IPRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	for ip, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
		}
	}
}

// RateLimit rejects requests over the client's budget with 429.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.Allow(ip) {
				slog.Warn("http: rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				respond.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. chi's RealIP runs first when
// the service sits behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package auth

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig holds per-client limits.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxAuthFailures   int           `yaml:"max_auth_failures"`
	FailureWindow     time.Duration `yaml:"failure_window"`
	BlockFor          time.Duration `yaml:"block_for"`
}

// DefaultRateLimitConfig returns the default settings: 10 req/s with a burst
// of 20, and a 5 minute block after 10 failed logins within a minute.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		MaxAuthFailures:   10,
		FailureWindow:     time.Minute,
		BlockFor:          5 * time.Minute,
	}
}

const maxTrackedClients = 1000

// RateLimiter implements per-client token bucket rate limiting and tracks
// failed authentication attempts.
type RateLimiter struct {
	config RateLimitConfig
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	authMu       sync.Mutex
	authFailures map[string]*authBucket
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

type authBucket struct {
	failures     int
	windowStart  time.Time
	blockedUntil time.Time
}

// NewRateLimiter creates a rate limiter. Zero fields take their defaults.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.MaxAuthFailures <= 0 {
		config.MaxAuthFailures = def.MaxAuthFailures
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = def.FailureWindow
	}
	if config.BlockFor <= 0 {
		config.BlockFor = def.BlockFor
	}
	return &RateLimiter{
		config:       config,
		now:          time.Now,
		buckets:      make(map[string]*bucket),
		authFailures: make(map[string]*authBucket),
	}
}

// Allow reports whether a request from key fits in its bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= maxTrackedClients {
			rl.evictFullBuckets(now)
		}
		b = &bucket{tokens: float64(rl.config.Burst), lastRefill: now}
		rl.buckets[key] = b
	}

	b.tokens = math.Min(float64(rl.config.Burst), b.tokens+now.Sub(b.lastRefill).Seconds()*rl.config.RequestsPerSecond)
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictFullBuckets drops clients whose bucket would be refilled by now; they
// are indistinguishable from new clients.
func (rl *RateLimiter) evictFullBuckets(now time.Time) {
	full := time.Duration(float64(rl.config.Burst) / rl.config.RequestsPerSecond * float64(time.Second))
	for k, b := range rl.buckets {
		if now.Sub(b.lastRefill) >= full {
			delete(rl.buckets, k)
		}
	}
}

// IsAuthBlocked reports whether ip is blocked after too many failures.
func (rl *RateLimiter) IsAuthBlocked(ip string) bool {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	b, ok := rl.authFailures[ip]
	if !ok || b.blockedUntil.IsZero() {
		return false
	}
	if rl.now().Before(b.blockedUntil) {
		return true
	}
	delete(rl.authFailures, ip)
	return false
}

// AuthBlockRetryAfter returns whole seconds until ip's block expires.
func (rl *RateLimiter) AuthBlockRetryAfter(ip string) int {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	b, ok := rl.authFailures[ip]
	if !ok {
		return 0
	}
	remaining := b.blockedUntil.Sub(rl.now()).Seconds()
	if remaining <= 0 {
		return 0
	}
	return int(remaining) + 1
}

// AuthFailure records a failed attempt from ip and reports whether ip is now
// blocked.
func (rl *RateLimiter) AuthFailure(ip string) bool {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()

	now := rl.now()
	b, ok := rl.authFailures[ip]
	if !ok {
		b = &authBucket{windowStart: now}
		rl.authFailures[ip] = b
	}
	if now.Sub(b.windowStart) > rl.config.FailureWindow {
		b.failures = 0
		b.windowStart = now
	}

	b.failures++
	if b.failures >= rl.config.MaxAuthFailures {
		b.blockedUntil = now.Add(rl.config.BlockFor)
		return true
	}

	if len(rl.authFailures) > maxTrackedClients {
		rl.evictStaleAuthEntries(now)
	}
	return false
}

// AuthSuccess clears failure tracking for ip.
func (rl *RateLimiter) AuthSuccess(ip string) {
	rl.authMu.Lock()
	defer rl.authMu.Unlock()
	delete(rl.authFailures, ip)
}

func (rl *RateLimiter) evictStaleAuthEntries(now time.Time) {
	for ip, b := range rl.authFailures {
		if !b.blockedUntil.IsZero() && now.After(b.blockedUntil) {
			delete(rl.authFailures, ip)
		} else if b.blockedUntil.IsZero() && now.Sub(b.windowStart) > rl.config.FailureWindow {
			delete(rl.authFailures, ip)
		}
	}
}

// Middleware applies request rate limiting keyed by keyFunc. An empty key and
// the skipPaths are not limited.
func (rl *RateLimiter) Middleware(keyFunc func(r *http.Request) string, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFunc(r)
			if key != "" && !rl.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(1/rl.config.RequestsPerSecond)))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"error":"rate_limited","message":"Rate limit exceeded. Try again later."}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKeyFunc keys on the connection's remote host. Forwarding headers
// are ignored: a client could rotate them to dodge limits. Servers behind a
// trusted proxy rewrite RemoteAddr before this runs.
func ClientIPKeyFunc(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

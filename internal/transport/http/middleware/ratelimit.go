package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	Name              string        // Label used in logs
	RequestsPerMinute int           // Maximum requests per minute per IP
	Burst             int           // Maximum burst size
	CleanupInterval   time.Duration // How often to clean up old entries
}

// DefaultRateLimitConfig returns the limits for job-creating endpoints.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Name:              "jobs",
		RequestsPerMinute: 10,
		Burst:             3,
		CleanupInterval:   10 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages rate limiting per IP address.
type RateLimiter struct {
	config   *RateLimitConfig
	visitors map[string]*visitor
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new RateLimiter with the given configuration.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if config.RequestsPerMinute < 1 {
		config.RequestsPerMinute = 1
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}

	rl := &RateLimiter{
		config:   config,
		visitors: make(map[string]*visitor),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupOldEntries()
	return rl
}

// Stop stops the rate limiter's cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		perSecond := rate.Limit(float64(rl.config.RequestsPerMinute) / 60.0)
		v = &visitor{limiter: rate.NewLimiter(perSecond, rl.config.Burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (rl *RateLimiter) cleanupOldEntries() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := time.Now().Add(-rl.config.CleanupInterval)
	deleted := 0
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(threshold) {
			delete(rl.visitors, ip)
			deleted++
		}
	}

	if deleted > 0 {
		slog.Debug("Rate limiter cleanup",
			"limiter", rl.config.Name,
			"deleted", deleted,
			"remaining", len(rl.visitors),
		)
	}
}

// Allow checks if a request from the given IP is allowed.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getVisitor(ip).Allow()
}

// RetryAfter is the number of seconds until one more token is available.
func (rl *RateLimiter) RetryAfter() int {
	return int(math.Ceil(60.0 / float64(rl.config.RequestsPerMinute)))
}

// VisitorCount returns the number of tracked visitors.
func (rl *RateLimiter) VisitorCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// RateLimitMiddleware creates a middleware that enforces rate limiting.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)

			if !rl.Allow(ip) {
				slog.Warn("Rate limit exceeded",
					"limiter", rl.config.Name,
					"ip", ip,
					"path", r.URL.Path,
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter()))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded","code":"RATE_LIMIT"}` + "\n"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

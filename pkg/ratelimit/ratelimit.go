// Package ratelimit provides keyed token-bucket rate limiting middleware for gin.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
	"github.com/noah-isme/safecircle-api/pkg/response"
)

// Config holds rate limiter configuration.
type Config struct {
	// Rate is the number of requests allowed per second per key.
	Rate float64
	// Burst is the maximum number of requests allowed in a burst.
	Burst int
	// CleanupInterval is how often stale keys are dropped.
	CleanupInterval time.Duration
	// MaxAge is how long a key is kept after its last access.
	MaxAge time.Duration
}

// KeyFunc extracts the limiting key from a request. An empty key skips limiting.
type KeyFunc func(c *gin.Context) string

// ByClientIP keys requests by client IP.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter implements per-key rate limiting with automatic cleanup.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
	once    sync.Once
}

// New creates a limiter and starts its cleanup goroutine.
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}

	l := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request for key may proceed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.config.Rate), l.config.Burst)}
		l.entries[key] = e
	}
	e.lastAccess = time.Now()
	return e.limiter.Allow()
}

// Middleware rejects requests over the limit with RATE_LIMITED.
func (l *Limiter) Middleware(key KeyFunc) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(max(1, 1/l.config.Rate)))
	return func(c *gin.Context) {
		k := key(c)
		if k == "" || l.Allow(k) {
			c.Next()
			return
		}
		c.Header("Retry-After", retryAfter)
		response.Error(c, appErrors.ErrRateLimited)
		c.Abort()
	}
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.removeStale(time.Now())
		}
	}
}

func (l *Limiter) removeStale(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, e := range l.entries {
		if now.Sub(e.lastAccess) > l.config.MaxAge {
			delete(l.entries, k)
		}
	}
}

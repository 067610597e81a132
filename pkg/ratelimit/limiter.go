// Package ratelimit provides per-source token bucket limiting for the
// webhook boundary, keeping one noisy delivery source from starving the rest.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config defines source rate limiting behavior
type Config struct {
	// RequestsPerSecond is the sustained rate allowed per source
	RequestsPerSecond float64
	// Burst is the instantaneous allowance per source
	Burst int
	// IdleTTL is how long an inactive source's bucket is kept around
	IdleTTL time.Duration
}

// DefaultConfig returns limits sized for webhook redelivery storms.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             40,
		IdleTTL:           10 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SourceLimiter keeps one token bucket per source key.
type SourceLimiter struct {
	config Config

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewSourceLimiter creates a per-source limiter.
func NewSourceLimiter(config Config) *SourceLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = DefaultConfig().Burst
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultConfig().IdleTTL
	}
	return &SourceLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether the source may proceed, consuming one token.
func (l *SourceLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	// Opportunistic pruning of idle sources keeps the map bounded
	if len(l.buckets)%64 == 0 {
		l.pruneLocked(now)
	}

	return b.limiter.Allow()
}

// Sources returns the number of tracked source buckets.
func (l *SourceLimiter) Sources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *SourceLimiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.config.IdleTTL {
			delete(l.buckets, key)
		}
	}
}

// Middleware limits requests by client IP and answers 429 when exceeded.
func Middleware(limiter *SourceLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

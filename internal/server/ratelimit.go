package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 5
	defaultRequestBurst      = 20
	limiterIdleTTL           = 10 * time.Minute
	limiterSweepThreshold    = 1024
)

// RateLimitConfig bounds authenticated requests per user.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userRateLimiter keeps one token bucket per authenticated user.
type userRateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	clock    func() time.Time
	limiters map[string]*limiterEntry
}

func newUserRateLimiter(cfg RateLimitConfig, clock func() time.Time) *userRateLimiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Limit(defaultRequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultRequestBurst
	}
	if clock == nil {
		clock = time.Now
	}
	return &userRateLimiter{
		limit:    limit,
		burst:    burst,
		clock:    clock,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *userRateLimiter) allow(userID string) bool {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= limiterSweepThreshold {
			l.sweep(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for longer than limiterIdleTTL. Callers hold mu.
func (l *userRateLimiter) sweep(now time.Time) {
	for userID, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, userID)
		}
	}
}

func (l *userRateLimiter) middleware(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		userID = c.ClientIP()
	}
	if !l.allow(userID) {
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "server.rate_limited"})
		return
	}
	c.Next()
}

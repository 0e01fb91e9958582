package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medipredict-backend/internal/database"
	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/response"
)

// InMemoryRateLimiter provides in-memory rate limiting as fallback when Redis is degraded
type InMemoryRateLimiter struct {
	mu     sync.Mutex
	limits map[string]*windowCount
	now    func() time.Time
}

type windowCount struct {
	count   int
	resetAt time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limits: make(map[string]*windowCount),
		now:    time.Now,
	}
}

// Check counts a request for identifier and reports whether it is within limit
func (im *InMemoryRateLimiter) Check(identifier string, limit int, window time.Duration) (bool, int, time.Time) {
	im.mu.Lock()
	defer im.mu.Unlock()

	now := im.now()
	w, ok := im.limits[identifier]
	if !ok || !now.Before(w.resetAt) {
		w = &windowCount{resetAt: now.Add(window)}
		im.limits[identifier] = w
		im.sweep(now)
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return w.count <= limit, remaining, w.resetAt
}

// sweep drops expired windows so idle clients do not accumulate
func (im *InMemoryRateLimiter) sweep(now time.Time) {
	for id, w := range im.limits {
		if !now.Before(w.resetAt) {
			delete(im.limits, id)
		}
	}
}

// RateLimiter is a fixed-window limiter keyed by participant or client IP.
// Counters live in Redis; while Redis is degraded the in-memory limiter takes over.
type RateLimiter struct {
	redis    *database.RedisClient
	fallback *InMemoryRateLimiter
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter. redis may be nil.
func NewRateLimiter(redis *database.RedisClient, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:    redis,
		fallback: NewInMemoryRateLimiter(),
		limit:    limit,
		window:   window,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if id := c.GetString("participant_id"); id != "" {
			identifier = "participant:" + id
		}

		allowed, remaining, resetAt := rl.check(c.Request.Context(), identifier)

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, identifier string) (bool, int, time.Time) {
	if rl.redis == nil || rl.redis.IsDegraded() {
		return rl.fallback.Check(identifier, rl.limit, rl.window)
	}

	windowStart := time.Now().Truncate(rl.window)
	key := fmt.Sprintf("ratelimit:%s:%d", identifier, windowStart.Unix())

	count, err := rl.redis.SafeIncrWithin(ctx, key, rl.window)
	if err != nil {
		logger.Warn("Redis rate limit check failed, using in-memory limiter",
			zap.String("identifier", identifier),
			zap.Error(err))
		return rl.fallback.Check(identifier, rl.limit, rl.window)
	}

	remaining := rl.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return int(count) <= rl.limit, remaining, windowStart.Add(rl.window)
}

package middleware

import (
	"context"
	"time"

	"perpbot/internal/util"
	"perpbot/pkg/redis"

	"github.com/gin-gonic/gin"
)

// Counter is the slice of the redis client the limiter needs
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// RateLimiter is a fixed-window per-IP request limiter backed by redis
type RateLimiter struct {
	counter   Counter
	limit     int
	window    time.Duration
	keyPrefix string
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(counter Counter, limit int, window time.Duration, keyPrefix string) *RateLimiter {
	return &RateLimiter{
		counter:   counter,
		limit:     limit,
		window:    window,
		keyPrefix: keyPrefix,
	}
}

// Limit returns a middleware that limits requests
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := redis.RateLimitKey(c.ClientIP(), rl.keyPrefix)

		allowed, err := rl.allow(c.Request.Context(), key)
		if err != nil {
			// redis down: fail open
			c.Next()
			return
		}
		if !allowed {
			util.AbortWithError(c, util.ErrRateLimit("Rate limit exceeded. Please try again later."))
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	count, err := rl.counter.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := rl.counter.Expire(ctx, key, rl.window); err != nil {
			return false, err
		}
	}
	return count <= int64(rl.limit), nil
}

// RateLimit limits requests per IP per minute
func RateLimit(counter Counter, limit int) gin.HandlerFunc {
	return NewRateLimiter(counter, limit, time.Minute, "control").Limit()
}

package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRateLimit  = 300
	defaultRateWindow = time.Minute
)

// Counter counts hits for key within a fixed window and reports the count.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter implements Counter with INCR and a first-hit expiry.
type RedisCounter struct {
	redis *redis.Client
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{redis: client}
}

// Hit starts the window on the first hit of a key. EXPIRE is sent only
// then, so later hits do not extend it.
func (r *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to check rate limit")
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, window).Err(); err != nil {
			return count, errors.Wrap(err, "failed to start rate limit window")
		}
	}
	return count, nil
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RateLimiter limits requests per client IP. A nil counter disables it, and
// a failing counter lets requests through.
func RateLimiter(counter Counter, cfg RateLimitConfig, logger *zap.Logger) fiber.Handler {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultRateLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultRateWindow
	}
	return func(c *fiber.Ctx) error {
		if counter == nil {
			return c.Next()
		}
		key := fmt.Sprintf("ratelimit:%s", c.IP())
		count, err := counter.Hit(c.UserContext(), key, cfg.Window)
		if err != nil {
			logger.Warn("rate limit check failed", zap.Error(err), zap.String("ip", c.IP()))
			return c.Next()
		}

		remaining := int64(cfg.Limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if count > int64(cfg.Limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(cfg.Window.Seconds())))
			logger.Warn("rate limit exceeded",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()))
			return fail(c, fiber.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.")
		}
		return c.Next()
	}
}

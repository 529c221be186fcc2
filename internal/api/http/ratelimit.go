package http

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-desk/internal/auth"
	apperrors "github.com/spec-kit/ticket-desk/pkg/util"
)

// RateLimiter throttles requests with a fixed one-minute window in Redis.
// When Redis is unreachable requests pass through; throttling is a guard,
// not a dependency.
type RateLimiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRateLimiter constructs the limiter.
func NewRateLimiter(client *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{client: client, logger: logger}
}

// PerIP limits by client address; used on unauthenticated routes like login.
func (rl *RateLimiter) PerIP(name string, perMinute int) fiber.Handler {
	return rl.limit(perMinute, func(c *fiber.Ctx) string {
		return fmt.Sprintf("ratelimit:%s:ip:%s", name, c.IP())
	})
}

// PerSubject limits by authenticated user, falling back to the client
// address when no principal is loaded.
func (rl *RateLimiter) PerSubject(name string, perMinute int) fiber.Handler {
	return rl.limit(perMinute, func(c *fiber.Ctx) string {
		if principal, ok := auth.PrincipalFromContext(c); ok && principal.User != nil {
			return fmt.Sprintf("ratelimit:%s:user:%s", name, principal.User.ID)
		}
		return fmt.Sprintf("ratelimit:%s:ip:%s", name, c.IP())
	})
}

func (rl *RateLimiter) limit(perMinute int, keyFn func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil || rl.client == nil || perMinute <= 0 {
			return c.Next()
		}
		key := keyFn(c)

		count, err := rl.client.Incr(c.Context(), key).Result()
		if err != nil {
			rl.logger.Warn("rate limiter unavailable", zap.Error(err))
			return c.Next()
		}
		if count == 1 {
			rl.client.Expire(c.Context(), key, time.Minute)
		}
		if count > int64(perMinute) {
			return apperrors.NewDomainError(
				"RATE_LIMITED",
				"too many requests, slow down",
				fiber.StatusTooManyRequests,
				nil,
			)
		}
		return c.Next()
	}
}

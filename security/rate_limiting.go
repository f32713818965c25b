package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

const rateLimitWindow = time.Minute

type RateLimiter struct {
	redis  redis.Cmdable
	limit  int64 // requests per window; 0 disables the limiter
	logger *slog.Logger
}

func NewRateLimiter(redisClient redis.Cmdable, perMinute int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{redis: redisClient, limit: int64(perMinute), logger: logger}
}

// Allow counts one request for identity in the current fixed window. Redis
// failures let the request through.
func (r *RateLimiter) Allow(ctx context.Context, identity string) bool {
	if r.limit <= 0 {
		return true
	}
	key := fmt.Sprintf("ratelimit:%s", identity)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		r.logger.Warn("rate limiter unavailable", "key", key, "error", err)
		return true
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, rateLimitWindow).Err(); err != nil {
			r.logger.Warn("rate limiter expire failed", "key", key, "error", err)
		}
	}
	return count <= r.limit
}

// Middleware limits requests per client IP.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if !r.Allow(e.Request.Context(), e.RealIP()) {
			e.Response.Header().Set("Retry-After", "60")
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many requests",
			})
		}
		return e.Next()
	}
}

// AntiBotMiddleware rejects clients announcing themselves as crawlers.
func AntiBotMiddleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return e.JSON(http.StatusForbidden, map[string]string{
				"error": "Access denied",
			})
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}

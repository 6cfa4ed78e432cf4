package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

type RateLimit struct {
	Window      time.Duration // e.g., 1 minute, 1 hour
	MaxRequests int           // max mutations per window
}

// MutationLimiter is a sliding-window limiter on a redis sorted set, shared by
// every instance of the service.
type MutationLimiter struct {
	redis  *redis.Client
	name   string
	config RateLimit
}

func NewMutationLimiter(client *redis.Client, name string, config RateLimit) *MutationLimiter {
	return &MutationLimiter{
		redis:  client,
		name:   name,
		config: config,
	}
}

func (l *MutationLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	key := fmt.Sprintf("mutation_rate_limit:%s:%s", l.name, identifier)

	pipe := l.redis.Pipeline()
	now := time.Now()
	windowStart := now.Add(-l.config.Window).UnixMilli()

	// Remove old entries
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))

	// Count current window
	pipe.ZCard(ctx, key)

	// Add new entry; the member is unique so bursts in one millisecond all count
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})

	// Set expiration
	pipe.Expire(ctx, key, l.config.Window*2)

	results, err := pipe.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("redis pipeline error: %w", err)
	}

	count := results[1].(*redis.IntCmd).Val()
	return count < int64(l.config.MaxRequests), nil
}

// Middleware limits mutating requests per user. Reads pass through, and so
// does everything when redis is unreachable.
func (l *MutationLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodGet || c.Request().Method == http.MethodHead {
				return next(c)
			}
			id := GetUserID(c)
			if id == "" {
				id = c.RealIP()
			}
			ok, err := l.Allow(c.Request().Context(), id)
			if err != nil {
				log.Warn("Mutation rate limiter unavailable: %v", err)
				return next(c)
			}
			if !ok {
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many changes, slow down")
			}
			return next(c)
		}
	}
}

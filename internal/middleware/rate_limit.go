package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	rateLimitPrefix     = "pledge|ratelimit:"
	maxLocalLimiterKeys = 10000
)

// RateLimitConfig describes one fixed-window limit.
type RateLimitConfig struct {
	Name    string
	Max     int
	Window  time.Duration
	Message string
	// KeyFunc derives the bucket for a request. Defaults to the client IP.
	KeyFunc func(c *fiber.Ctx) string
	// OnLimit is called with Name whenever a request is rejected.
	OnLimit func(name string)
	Logger  *slog.Logger
}

// RateLimit limits requests per key. With a Redis client it counts in a shared
// fixed window (INCR + EXPIRE); without one it falls back to an in-process
// token bucket. Cache errors fail open.
func RateLimit(cache redis.UniversalClient, cfg RateLimitConfig) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	if cfg.Message == "" {
		cfg.Message = "Too many requests. Please try again later."
	}

	var allow func(ctx context.Context, key string) bool
	if cache != nil {
		allow = redisWindow(cache, cfg)
	} else {
		allow = newLocalLimiter(cfg).allow
	}

	return func(c *fiber.Ctx) error {
		key := cfg.Name + ":" + cfg.KeyFunc(c)
		if allow(c.UserContext(), key) {
			return c.Next()
		}
		if cfg.OnLimit != nil {
			cfg.OnLimit(cfg.Name)
		}
		c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(cfg.Window/time.Second)))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error_code":    "RATE_LIMIT_EXCEEDED",
			"error_message": cfg.Message,
		})
	}
}

func redisWindow(cache redis.UniversalClient, cfg RateLimitConfig) func(context.Context, string) bool {
	return func(ctx context.Context, key string) bool {
		redisKey := rateLimitPrefix + key
		cnt, err := cache.Incr(ctx, redisKey).Result()
		if err == nil && cnt == 1 {
			err = cache.Expire(ctx, redisKey, cfg.Window).Err()
		}
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit check failed", slog.String("limiter", cfg.Name), slog.Any("error", err))
			}
			return true
		}
		return cnt <= int64(cfg.Max)
	}
}

type localLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newLocalLimiter(cfg RateLimitConfig) *localLimiter {
	return &localLimiter{
		limit:    rate.Every(cfg.Window / time.Duration(cfg.Max)),
		burst:    cfg.Max,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *localLimiter) allow(_ context.Context, key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLocalLimiterKeys {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// BodyFieldKey buckets requests by a JSON body field, prefixed with the
// client IP when withIP is set.
func BodyFieldKey(field string, withIP bool) func(c *fiber.Ctx) string {
	return func(c *fiber.Ctx) string {
		var body map[string]any
		_ = c.BodyParser(&body)
		value, _ := body[field].(string)
		value = strings.TrimSpace(value)
		if value == "" {
			value = "unknown"
		}
		if withIP {
			return c.IP() + "-" + value
		}
		return value
	}
}

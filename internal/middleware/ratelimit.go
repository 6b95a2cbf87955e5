package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/asharando/rideplan_core/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimiter implements per-client rate limiting over Redis counters.
// It checks limits per second and per day; a zero limit disables that window.
type RateLimiter struct {
	rdb *redis.Client
	cfg config.RateLimitConfig
	now func() time.Time
}

// NewRateLimiter creates a rate limiter with the limits from cfg
func NewRateLimiter(rdb *redis.Client, cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{rdb: rdb, cfg: cfg, now: time.Now}
}

func secondKey(client string, now time.Time) string {
	return fmt.Sprintf("rl:client:%s:second:%d", client, now.Unix())
}

func dayKey(client string, now time.Time) string {
	return fmt.Sprintf("rl:client:%s:day:%s", client, now.Format("2006-01-02"))
}

// Handler returns the fiber middleware. Clients are keyed by IP; Redis errors let
// the request through.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		now := rl.now()
		client := c.IP()

		// Check per-second rate limit
		if rl.cfg.PerSecond > 0 {
			key := secondKey(client, now)
			countSecond, err := rl.rdb.Incr(ctx, key).Result()
			if err == nil {
				rl.rdb.Expire(ctx, key, 2*time.Second)

				if countSecond > int64(rl.cfg.PerSecond) {
					c.Set("X-RateLimit-Limit-Second", strconv.Itoa(rl.cfg.PerSecond))
					c.Set("X-RateLimit-Remaining-Second", "0")
					c.Set("X-RateLimit-Reset-Second", strconv.FormatInt(now.Unix()+1, 10))
					c.Set("Retry-After", "1")

					return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
						"error":       "rate_limit_exceeded",
						"message":     "Too many requests per second",
						"limit_type":  "per_second",
						"limit":       rl.cfg.PerSecond,
						"retry_after": 1,
					})
				}
			}
		}

		// Check per-day rate limit
		if rl.cfg.PerDay > 0 {
			key := dayKey(client, now)
			countDay, err := rl.rdb.Incr(ctx, key).Result()
			if err == nil {
				// 25 hours to handle timezone differences
				rl.rdb.Expire(ctx, key, 25*time.Hour)

				if countDay > int64(rl.cfg.PerDay) {
					tomorrow := now.AddDate(0, 0, 1)
					midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, tomorrow.Location())
					retryAfter := int64(midnight.Sub(now).Seconds())

					c.Set("X-RateLimit-Limit-Day", strconv.Itoa(rl.cfg.PerDay))
					c.Set("X-RateLimit-Remaining-Day", "0")
					c.Set("X-RateLimit-Reset-Day", strconv.FormatInt(midnight.Unix(), 10))
					c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

					return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
						"error":       "daily_quota_exceeded",
						"message":     "Daily quota exceeded",
						"limit_type":  "per_day",
						"limit":       rl.cfg.PerDay,
						"used":        countDay,
						"retry_after": retryAfter,
						"reset_at":    midnight.Format(time.RFC3339),
					})
				}

				c.Set("X-RateLimit-Remaining-Day", strconv.FormatInt(int64(rl.cfg.PerDay)-countDay, 10))
			}
		}

		c.Set("X-RateLimit-Limit-Second", strconv.Itoa(rl.cfg.PerSecond))
		c.Set("X-RateLimit-Limit-Day", strconv.Itoa(rl.cfg.PerDay))

		return c.Next()
	}
}

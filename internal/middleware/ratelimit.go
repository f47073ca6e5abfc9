package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const rateLimitPrefix = "rl:transfer:"

// TransferRateLimit caps transfer submissions per authenticated user per
// minute using a Redis fixed window. It is a no-op without Redis and fails
// open on cache errors; balance and limit checks do not depend on it.
func TransferRateLimit(cache *redis.Client, maxPerMin int, logger *logrus.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := UserID(c)
		if subject == "" {
			subject = c.IP()
		}
		window := time.Now().UTC().Unix() / 60
		key := rateLimitPrefix + subject + ":" + strconv.FormatInt(window, 10)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.WithError(err).Warn("transfer rate limit lookup failed")
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "too many transfer requests, try again later")
		}
		return c.Next()
	}
}

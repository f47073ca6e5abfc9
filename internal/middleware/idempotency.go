package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v1:"
	inProgressMarker     = "__in_progress__"
	idempotencyKeyLocal  = "idempotency_key"
	maxIdempotencyKeyLen = 128
	idempotencyTimeout   = 2 * time.Second
)

type storedResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Idempotency enforces idempotent semantics across unsafe HTTP methods by
// persisting responses in Redis keyed by the caller and the provided
// Idempotency-Key header. Handler errors and 5xx responses release the key so
// the request can be retried; other rendered responses, including business
// rejections, are replayed verbatim.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header too long")
		}
		c.Locals(idempotencyKeyLocal, key)

		cacheKey := idempotencyPrefix + UserID(c) + ":" + key
		log := logger.WithFields(logrus.Fields{"key": key, "user_id": UserID(c)})

		ctx, cancel := context.WithTimeout(c.UserContext(), idempotencyTimeout)
		defer cancel()

		cached, err := cache.Get(ctx, cacheKey).Result()
		switch {
		case err == nil:
			return replayStored(c, cached, log)
		case !errors.Is(err, redis.Nil):
			log.WithError(err).Error("idempotency lookup failed")
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			log.WithError(err).Error("idempotency reservation failed")
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
		}

		if err := c.Next(); err != nil {
			release(c, cache, cacheKey, log)
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			release(c, cache, cacheKey, log)
			return nil
		}

		stored := storedResponse{
			Status:  status,
			Body:    string(c.Response().Body()),
			Headers: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Headers[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			log.WithError(err).Error("failed to encode idempotent response")
			release(c, cache, cacheKey, log)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
		}

		persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), idempotencyTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			log.WithError(err).Error("failed to persist idempotent response")
			release(c, cache, cacheKey, log)
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
		}
		return nil
	}
}

func replayStored(c *fiber.Ctx, cached string, log *logrus.Entry) error {
	if cached == inProgressMarker {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		log.WithError(err).Warn("failed to decode stored idempotent response")
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}

	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	c.Set("Idempotent-Replayed", "true")
	return c.Status(stored.Status).SendString(stored.Body)
}

// release drops the reservation so the client may retry the same key.
func release(c *fiber.Ctx, cache *redis.Client, cacheKey string, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), idempotencyTimeout)
	defer cancel()
	if err := cache.Del(ctx, cacheKey).Err(); err != nil {
		log.WithError(err).Warn("idempotency release failed")
	}
}

// IdempotencyKey returns the Idempotency-Key accepted for the request, if any.
func IdempotencyKey(c *fiber.Ctx) string {
	key, _ := c.Locals(idempotencyKeyLocal).(string)
	return key
}

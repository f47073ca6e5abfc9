package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Audit emits structured logs for each request/response lifecycle event.
func Audit(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fiberErr *fiber.Error
		if err != nil {
			status = fiber.StatusInternalServerError
			if errors.As(err, &fiberErr) {
				status = fiberErr.Code
			}
		}

		fields := logrus.Fields{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if requestID, _ := c.Locals(requestIDHeader).(string); requestID != "" {
			fields["request_id"] = requestID
		}
		if uid := UserID(c); uid != "" {
			fields["user_id"] = uid
		}

		entry := logger.WithFields(fields)
		if err != nil {
			entry.WithError(err).Error("request completed")
			return err
		}
		entry.Info("request completed")
		return nil
	}
}

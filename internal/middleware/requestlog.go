package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the id that ties a response to its log line
const RequestIDHeader = "X-Request-ID"

// RequestLogger stamps every request with an id and logs it once it completes.
// An incoming X-Request-ID is kept so ids survive a proxy hop.
func RequestLogger(log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set(RequestIDHeader, requestID)

		err := c.Next()

		responseTime := time.Since(start)
		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}

		entry := log.WithFields(logrus.Fields{
			"request_id":       requestID,
			"method":           c.Method(),
			"path":             c.Path(),
			"status":           status,
			"response_time_ms": responseTime.Milliseconds(),
			"ip":               c.IP(),
			"user_agent":       c.Get(fiber.HeaderUserAgent),
		})
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}

		c.Set("X-Response-Time", responseTime.String())

		return err
	}
}

package middleware

import (
	"strconv"
	"time"

	"dealerchat-backend/internal/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Logger logs each request with zerolog and records request metrics.
// Fast successful requests log at debug so production output stays quiet.
func Logger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		latency := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).Inc()

		event := log.Debug()
		if status >= 400 || latency > 500*time.Millisecond {
			event = log.Warn()
		}
		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", latency).
			Str("ip", c.IP()).
			Msg("request completed")

		return err
	}
}

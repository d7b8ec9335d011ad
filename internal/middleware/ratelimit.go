package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimit throttles chat endpoints per authenticated identity, falling
// back to the client IP for unauthenticated routes.
func RateLimit(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if identity := IdentityFromCtx(c); identity.ID != "" {
				return string(identity.Role) + ":" + identity.ID
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "slow down, message rate exceeded"})
		},
	})
}

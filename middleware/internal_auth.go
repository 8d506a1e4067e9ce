package middleware

import (
	"crypto/subtle"

	"membermail/config"

	"github.com/gofiber/fiber/v2"
)

// InternalAuth guards the manual reconcile/drain and CRUD endpoints
// with the shared internal token. When no token is configured the
// endpoints are open, which is only acceptable in development.
func InternalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := config.AppConfig.InternalToken
		if expected == "" {
			return c.Next()
		}

		provided := c.Get("X-Internal-Token")
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authorization required",
			})
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid internal token",
			})
		}

		return c.Next()
	}
}

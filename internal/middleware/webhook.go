package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// WebhookAuthMiddleware validates the courier webhook shared secret,
// accepted either as an x-api-key header or a token query parameter. With
// no secret configured the webhook is open (the courier dashboard may not
// support custom headers).
func WebhookAuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		provided := c.Get("x-api-key")
		if provided == "" {
			provided = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid webhook token")
		}
		return c.Next()
	}
}

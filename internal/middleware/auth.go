package middleware

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

const APIKeyHeader = "x-api-key"

// AdminKey guards admin routes with the shared API key. Both sides are hashed first
// so the comparison is constant time and independent of the key length.
func AdminKey(apiKey string) fiber.Handler {
	want := sha256.Sum256([]byte(apiKey))

	return func(c *fiber.Ctx) error {
		got := sha256.Sum256([]byte(c.Get(APIKeyHeader)))
		if apiKey == "" || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		c.Locals("actor", "admin-api")
		return c.Next()
	}
}

package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"
)

// KeyAdminAuthenticated is set on requests that passed AdminAPIKeyAuth.
const KeyAdminAuthenticated = "ADMIN_AUTHENTICATED"

// AdminAPIKeyAuth authenticates operator requests against a bcrypt hash of
// the admin API key. An empty hash disables the admin API.
func AdminAPIKeyAuth(keyHash string) fiber.Handler {
	hash := []byte(strings.TrimSpace(keyHash))
	if len(hash) == 0 {
		log.Warn("[Admin] ADMIN_API_KEY_HASH not set, admin API disabled")
	}

	return func(c *fiber.Ctx) error {
		if len(hash) == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Admin API disabled"})
		}

		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		if err := bcrypt.CompareHashAndPassword(hash, []byte(apiKey)); err != nil {
			if err != bcrypt.ErrMismatchedHashAndPassword {
				log.Errorf("[Admin] API key verification failed: %v", err)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		c.Locals(KeyAdminAuthenticated, true)
		return c.Next()
	}
}

// HashAPIKey returns the bcrypt hash to put into ADMIN_API_KEY_HASH.
func HashAPIKey(raw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/user/agentdesk/backend/internal/models"
)

const agentLocal = "agent"

// Authenticator resolves an API key. *credentials.Store satisfies it.
type Authenticator interface {
	Authenticate(apiKey string) (models.Agent, error)
}

// APIKeyFrom extracts the key from the x-api-key header, falling back to a Bearer token.
func APIKeyFrom(c *fiber.Ctx) string {
	if key := strings.TrimSpace(c.Get("x-api-key")); key != "" {
		return key
	}
	return bearer(c.Get(fiber.HeaderAuthorization))
}

func bearer(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// APIKey authenticates the calling agent and stores it for downstream handlers.
// Nothing past this middleware runs for an unknown or suspended key.
func APIKey(authn Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		agent, err := authn.Authenticate(APIKeyFrom(c))
		if err != nil {
			reason := string(models.AuthInvalidKey)
			var authErr *models.AuthError
			if errors.As(err, &authErr) {
				reason = string(authErr.Reason)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":  "invalid or suspended api key",
				"code":   "AuthError",
				"reason": reason,
			})
		}
		c.Locals(agentLocal, agent)
		return c.Next()
	}
}

// AgentFrom returns the agent stored by APIKey.
func AgentFrom(c *fiber.Ctx) (models.Agent, bool) {
	agent, ok := c.Locals(agentLocal).(models.Agent)
	return agent, ok
}

// AdminOnly requires "Authorization: Bearer <token>". An empty token disables the routes.
func AdminOnly(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "admin api disabled", "code": "NotFound"})
		}
		got := bearer(c.Get(fiber.HeaderAuthorization))
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid admin token", "code": "AuthError"})
		}
		return c.Next()
	}
}

package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lomitrack/lomitrack/internal/pkg/security"
	"github.com/lomitrack/lomitrack/internal/pkg/usercontext"
)

// RequireAuth validates the bearer token and stores the user identity
// in the request locals. Requests without a valid token get a 401.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing or malformed authorization header",
			})
		}

		claims, err := security.DecodeToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		userID, ok := claims["user_id"].(float64)
		if !ok || userID <= 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token claims",
			})
		}

		c.Locals(usercontext.KeyLoggedIn, true)
		c.Locals(usercontext.KeyUserID, uint(userID))
		if name, ok := claims["name"].(string); ok {
			c.Locals(usercontext.KeyUsername, name)
		}
		if role, ok := claims["role"].(string); ok {
			c.Locals(usercontext.KeyRole, role)
		}

		return c.Next()
	}
}

// RequireAdmin allows only users carrying the admin role. Must run
// after RequireAuth.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		uc := usercontext.GetUserContext(c)
		if !uc.IsLoggedIn || !uc.IsAdmin() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin access required",
			})
		}
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

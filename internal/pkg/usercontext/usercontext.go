package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the authenticated user for a request
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

// GetUserContext retrieves the user context from fiber locals.
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	ctx := UserContext{}
	if v, ok := c.Locals(KeyLoggedIn).(bool); ok {
		ctx.IsLoggedIn = v
	}
	if v, ok := c.Locals(KeyUserID).(uint); ok {
		ctx.UserID = v
	}
	if v, ok := c.Locals(KeyUsername).(string); ok {
		ctx.Username = v
	}
	if v, ok := c.Locals(KeyRole).(string); ok {
		ctx.Role = v
	}
	return ctx
}

// IsAdmin checks if the current user has the admin role
func (u UserContext) IsAdmin() bool {
	return u.Role == "admin"
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lomitrack/lomitrack/app/models"
	"github.com/lomitrack/lomitrack/app/repository"
	"github.com/lomitrack/lomitrack/internal/pkg/security"
	"github.com/lomitrack/lomitrack/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a user account. Every new account gets a free
// subscription row so entitlement checks never deal with a missing row.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	repos := repository.GetGlobalFactory().GetRepositories()

	if _, err := repos.User.GetByEmail(req.Email); err == nil {
		return jsonError(c, fiber.StatusConflict, "conflict", "Email is already registered")
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}
	user.Phone = req.Phone

	if err := repos.User.Create(user); err != nil {
		log.Errorf("[Auth] Create user %s: %v", req.Email, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create account")
	}

	freePlan, err := repos.Plan.GetByCode(models.PlanCodeFree)
	if err != nil {
		log.Errorf("[Auth] Free plan lookup: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Plan catalog unavailable")
	}
	sub, err := repos.Subscription.GetOrCreateForUser(user.ID, freePlan.ID)
	if err != nil {
		log.Errorf("[Auth] Create subscription for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to create subscription")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":         user,
		"subscription": sub,
	})
}

// HandleLogin verifies credentials and issues a bearer token.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	repos := repository.GetGlobalFactory().GetRepositories()
	user, err := repos.User.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Invalid email or password")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	if !user.CheckPassword(req.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Invalid email or password")
	}
	if !user.IsActive() {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "Account is not active")
	}

	token, err := security.GenerateToken(user)
	if err != nil {
		log.Errorf("[Auth] Token generation for user %d: %v", user.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to issue token")
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := repos.User.Update(user); err != nil {
		log.Warnf("[Auth] Update last login for user %d: %v", user.ID, err)
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

// HandleMe returns the authenticated user's account.
func HandleMe(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory().GetRepositories()

	user, err := repos.User.GetByID(uc.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	return c.JSON(fiber.Map{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"phone":         user.Phone,
		"status":        user.Status,
		"is_admin":      user.IsAdmin(),
		"created_at":    user.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at": formatTimePtr(user.LastLoginAt),
	})
}

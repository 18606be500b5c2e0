package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lomitrack/lomitrack/app/repository"
	"github.com/lomitrack/lomitrack/internal/pkg/entitlements"
	"github.com/lomitrack/lomitrack/internal/pkg/usercontext"
)

// HandleGetSubscription returns the authenticated user's subscription
// together with current device usage.
func HandleGetSubscription(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory().GetRepositories()

	sub, err := repos.Subscription.GetByUserID(uc.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "No subscription for this account")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}

	activeDevices, err := repos.Device.CountActiveByUserID(uc.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count devices")
	}

	return c.JSON(fiber.Map{
		"subscription": sub,
		"usable":       sub.IsUsable(time.Now()),
		"usage":        entitlements.UsageFor(sub, activeDevices),
	})
}

// HandleGetUsage returns the device count against the plan limit.
func HandleGetUsage(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory().GetRepositories()

	sub, err := repos.Subscription.GetByUserID(uc.UserID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}

	activeDevices, err := repos.Device.CountActiveByUserID(uc.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count devices")
	}

	return c.JSON(fiber.Map{"usage": entitlements.UsageFor(sub, activeDevices)})
}

// HandleCancelSubscription cancels the user's subscription. The
// subscription row stays; only its status flips.
func HandleCancelSubscription(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)

	sub, err := paymentService.CancelSubscription(c.Context(), uc.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "No subscription for this account")
		}
		log.Errorf("[Subscription] Cancel for user %d: %v", uc.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to cancel subscription")
	}

	return c.JSON(fiber.Map{"subscription": sub})
}

// HandleListOrders returns the user's payment history, newest first.
func HandleListOrders(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	offset, limit := paginationParams(c)

	orders, err := repository.GetGlobalFactory().GetRepositories().Order.ListByUserID(uc.UserID, offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load orders")
	}
	return c.JSON(fiber.Map{"orders": orders})
}

package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/lomitrack/lomitrack/app/repository"
	"github.com/lomitrack/lomitrack/internal/pkg/payment"
)

// HandleAdminListUsers returns a page of user accounts.
func HandleAdminListUsers(c *fiber.Ctx) error {
	offset, limit := paginationParams(c)
	repos := repository.GetGlobalFactory().GetRepositories()

	users, err := repos.User.List(offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load users")
	}
	total, err := repos.User.Count()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count users")
	}

	return c.JSON(fiber.Map{"users": users, "total": total})
}

// HandleAdminListOrders returns a page of payment orders across all users.
func HandleAdminListOrders(c *fiber.Ctx) error {
	offset, limit := paginationParams(c)

	orders, err := repository.GetGlobalFactory().GetRepositories().Order.List(offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load orders")
	}
	return c.JSON(fiber.Map{"orders": orders})
}

// HandleAdminListUnreconciled returns completed orders whose
// subscription activation failed and still needs operator attention.
func HandleAdminListUnreconciled(c *fiber.Ctx) error {
	orders, err := repository.GetGlobalFactory().GetRepositories().Order.ListUnreconciled()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load orders")
	}
	return c.JSON(fiber.Map{"orders": orders})
}

// HandleAdminActivateOrder manually replays subscription activation for
// a completed order. Used to repair orders whose activation was
// deferred at callback time.
func HandleAdminActivateOrder(c *fiber.Ctx) error {
	orderID := c.Params("order_id")
	if orderID == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "order_id is required")
	}

	sub, err := paymentService.ActivateManually(c.Context(), orderID)
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"subscription": sub})
	case errors.Is(err, payment.ErrOrderNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Order not found")
	default:
		log.Errorf("[Admin] Manual activation for order %s: %v", orderID, err)
		return jsonError(c, fiber.StatusUnprocessableEntity, "activation_failed", err.Error())
	}
}

// HandleAdminListSubscriptions returns a page of subscriptions.
func HandleAdminListSubscriptions(c *fiber.Ctx) error {
	offset, limit := paginationParams(c)

	subs, err := repository.GetGlobalFactory().GetRepositories().Subscription.List(offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscriptions")
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// HandleAdminListDevices returns a page of devices across all users.
func HandleAdminListDevices(c *fiber.Ctx) error {
	offset, limit := paginationParams(c)

	devices, err := repository.GetGlobalFactory().GetRepositories().Device.List(offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load devices")
	}
	return c.JSON(fiber.Map{"devices": devices})
}

type updatePlanRequest struct {
	Name         *string `json:"name"`
	DeviceLimit  *int    `json:"device_limit"`
	DurationDays *int    `json:"duration_days"`
	Price        *string `json:"price"`
	IsActive     *bool   `json:"is_active"`
}

// HandleAdminUpdatePlan edits a plan tier. Plans are never deleted;
// retiring a tier means deactivating it.
func HandleAdminUpdatePlan(c *fiber.Ctx) error {
	planID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid plan id")
	}

	var req updatePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}

	repos := repository.GetGlobalFactory().GetRepositories()
	plan, err := repos.Plan.GetByID(uint(planID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Plan not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plan")
	}

	if req.Name != nil {
		plan.Name = *req.Name
	}
	if req.DeviceLimit != nil {
		plan.DeviceLimit = *req.DeviceLimit
	}
	if req.DurationDays != nil {
		plan.DurationDays = *req.DurationDays
	}
	if req.Price != nil {
		price, perr := parsePrice(*req.Price)
		if perr != nil {
			return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "Invalid price")
		}
		plan.Price = price
	}
	if req.IsActive != nil {
		plan.IsActive = *req.IsActive
	}

	if err := repos.Plan.Save(plan); err != nil {
		log.Errorf("[Admin] Save plan %d: %v", plan.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to save plan")
	}

	return c.JSON(fiber.Map{"plan": plan})
}

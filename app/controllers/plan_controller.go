package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lomitrack/lomitrack/app/repository"
)

// HandleListPlans returns the active plan catalog. Public endpoint.
func HandleListPlans(c *fiber.Ctx) error {
	plans, err := repository.GetGlobalFactory().GetRepositories().Plan.ListActive()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load plans")
	}
	return c.JSON(fiber.Map{"plans": plans})
}

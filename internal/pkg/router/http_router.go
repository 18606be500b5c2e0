package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/lomitrack/lomitrack/app/controllers"
	"github.com/lomitrack/lomitrack/internal/pkg/env"
)

// CallbackRouter installs the unauthenticated gateway callback routes
// and the operator monitor page. Gateways authenticate with signatures,
// not bearer tokens, so these stay outside the API group.
type CallbackRouter struct {
}

func (h CallbackRouter) InstallRouter(app *fiber.App) {
	app.Post("/payment/webhook/stripe", controllers.HandleStripeWebhook)
	app.Post("/payment/callback/telebirr", controllers.HandleTelebirrCallback)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	monitorUser := env.GetEnv("MONITOR_USER", "")
	monitorPass := env.GetEnv("MONITOR_PASSWORD", "")
	if monitorUser != "" && monitorPass != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{monitorUser: monitorPass},
		}), monitor.New(monitor.Config{Title: "LomiTrack Metrics"}))
	}
}

func NewCallbackRouter() *CallbackRouter {
	return &CallbackRouter{}
}

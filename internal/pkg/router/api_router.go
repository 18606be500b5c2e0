package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/lomitrack/lomitrack/app/controllers"
	"github.com/lomitrack/lomitrack/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{Max: 120}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Public routes
	v1.Post("/auth/register", controllers.HandleRegister)
	v1.Post("/auth/login", controllers.HandleLogin)
	v1.Get("/plans", controllers.HandleListPlans)

	// Authenticated routes
	auth := v1.Group("/", middleware.RequireAuth())
	auth.Get("/me", controllers.HandleMe)

	auth.Post("/payment/pay", controllers.HandleInitiatePayment)
	auth.Get("/payments", controllers.HandleListOrders)

	auth.Get("/subscription/current", controllers.HandleGetSubscription)
	auth.Get("/subscription/usage", controllers.HandleGetUsage)
	auth.Post("/subscription/cancel", controllers.HandleCancelSubscription)

	auth.Post("/devices", controllers.HandleRegisterDevice)
	auth.Get("/devices", controllers.HandleListDevices)
	auth.Delete("/devices/:id", controllers.HandleDeleteDevice)

	// Admin routes
	admin := auth.Group("/admin", middleware.RequireAdmin())
	admin.Get("/users", controllers.HandleAdminListUsers)
	admin.Get("/orders", controllers.HandleAdminListOrders)
	admin.Get("/orders/unreconciled", controllers.HandleAdminListUnreconciled)
	admin.Post("/orders/:order_id/activate", controllers.HandleAdminActivateOrder)
	admin.Get("/subscriptions", controllers.HandleAdminListSubscriptions)
	admin.Get("/devices", controllers.HandleAdminListDevices)
	admin.Put("/plans/:id", controllers.HandleAdminUpdatePlan)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

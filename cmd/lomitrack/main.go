package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lomitrack/lomitrack/app/controllers"
	"github.com/lomitrack/lomitrack/app/repository"
	"github.com/lomitrack/lomitrack/internal/pkg/cache"
	"github.com/lomitrack/lomitrack/internal/pkg/database"
	"github.com/lomitrack/lomitrack/internal/pkg/env"
	"github.com/lomitrack/lomitrack/internal/pkg/notify"
	"github.com/lomitrack/lomitrack/internal/pkg/payment"
	"github.com/lomitrack/lomitrack/internal/pkg/router"
	"github.com/lomitrack/lomitrack/internal/pkg/sweeper"
	"github.com/lomitrack/lomitrack/internal/pkg/tracking"
)

func main() {
	app, cleanup := NewApplication()
	defer cleanup()

	// graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-quit
	log.Info("Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("Forced shutdown: %v", err)
	}
}

// NewApplication wires the whole service together and returns the
// fiber app plus a cleanup function for the background workers.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	factory := repository.NewFactory(db)
	repository.SetGlobalFactory(factory)
	repos := factory.GetRepositories()

	notifier := notify.NewRedisNotifier(cache.GetClient(), env.GetEnv("NOTIFY_CHANNEL", ""))

	// payment stack
	paymentService := payment.NewServiceFromDB(db, notifier)
	stripeGateway := payment.NewStripeGatewayFromEnv()
	paymentService.RegisterGateway(stripeGateway)

	telebirrGateway, err := payment.NewTelebirrGatewayFromEnv()
	if err != nil {
		log.Warnf("Telebirr gateway disabled: %v", err)
	} else {
		paymentService.RegisterGateway(telebirrGateway)
	}
	controllers.SetPaymentStack(paymentService, stripeGateway, telebirrGateway)

	// tracking stack
	trackingClient := tracking.NewClientFromEnv()
	controllers.SetTrackingClient(trackingClient)

	positionSync := tracking.NewPositionSync(trackingClient, notifier, repos.Device)
	positionSync.Start()

	// background maintenance
	maintenance := sweeper.New(db, notifier)
	maintenance.Start()

	app := fiber.New(fiber.Config{
		AppName: "LomiTrack",
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app)

	cleanup := func() {
		maintenance.Stop()
		positionSync.Stop()
		database.CloseDatabase()
	}
	return app, cleanup
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marminbh/popup-pos/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(
	app *fiber.App,
	paymentHandler *handlers.PaymentHandler,
	healthHandler *handlers.HealthHandler,
	attemptsHandler *handlers.AttemptsHandler,
) {
	app.Get("/health", healthHandler.HealthCheck)
	app.Post("/pay", paymentHandler.Pay)

	api := app.Group("/api/v1")
	{
		api.Get("/sync-attempts", attemptsHandler.GetSyncAttempts)
	}
}

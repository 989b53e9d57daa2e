package routes

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/listafacil/listafacil-backend/internal/handlers"
	"github.com/listafacil/listafacil-backend/internal/middleware"
	"github.com/listafacil/listafacil-backend/internal/services"
	"github.com/listafacil/listafacil-backend/internal/storage"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, store storage.Store, orchestrator *services.Orchestrator, twilioService *services.TwilioService) {

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to ListaFacil Backend!",
			"version": "1.0.0",
			"endpoints": fiber.Map{
				"health":        "/health",
				"webhook":       "/webhook/whatsapp",
				"test_whatsapp": "/test/whatsapp",
			},
		})
	})

	healthHandler := handlers.NewHealthHandler("1.0.0", store, orchestrator)
	app.Get("/health", healthHandler.Check)

	whatsappHandler := handlers.NewWhatsAppHandler(orchestrator, twilioService)

	// Twilio signature validation can be disabled for local testing
	webhook := app.Group("/webhook")
	if os.Getenv("TWILIO_VALIDATE_SIGNATURE") != "false" {
		webhook.Use("/whatsapp", middleware.ValidateTwilioSignature())
	}
	webhook.Post("/whatsapp", whatsappHandler.HandleWebhook)

	// Development-only webhook that skips Twilio entirely
	if os.Getenv("ENABLE_TEST_WEBHOOK") == "true" {
		app.Post("/test/whatsapp", whatsappHandler.HandleTestWebhook)
	}
}

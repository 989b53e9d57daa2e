package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/listafacil/listafacil-backend/database"
	"github.com/listafacil/listafacil-backend/internal/jobs"
	"github.com/listafacil/listafacil-backend/internal/routes"
	"github.com/listafacil/listafacil-backend/internal/services"
	"github.com/listafacil/listafacil-backend/internal/storage"
)

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("⚠️  No .env file found - checking environment variables")
		}
	}

	// Initialize storage: one durable JSON document, either on disk or
	// in a single PostgreSQL row
	var persister storage.Persister
	if os.Getenv("USE_DB_STORE") == "true" {
		log.Println("📦 Connecting to PostgreSQL database...")
		database.Connect()

		p, err := storage.NewDatabasePersister(database.DB)
		if err != nil {
			log.Fatal("Failed to prepare database storage:", err)
		}
		persister = p
		log.Println("✅ Using PostgreSQL document storage")
	} else {
		stateFile := os.Getenv("STATE_FILE")
		if stateFile == "" {
			stateFile = "data/state.json"
		}
		persister = storage.NewFilePersister(stateFile)
		log.Printf("✅ Using file document storage: %s", stateFile)
	}

	store, err := storage.NewDocumentStore(persister)
	if err != nil {
		log.Fatal("Failed to open document store:", err)
	}

	// Initialize Twilio service
	twilioService, err := services.NewTwilioService()
	if err != nil {
		log.Fatal("Failed to initialize Twilio service:", err)
	}
	log.Println("✅ Twilio service initialized")

	// Initialize vision service
	visionService, err := services.NewVisionService()
	if err != nil {
		log.Fatal("Failed to initialize vision service:", err)
	}
	log.Println("✅ Vision service initialized")

	// Initialize Mercado Livre client
	marketplace, err := services.NewMercadoLivre(store)
	if err != nil {
		log.Fatal("Failed to initialize Mercado Livre client:", err)
	}
	log.Println("✅ Mercado Livre client initialized")

	// Outbound replies: serialized, rate limited, with a human-like delay
	outbound := services.NewOutboundQueue(twilioService, time.Second, 3, 500*time.Millisecond)
	outbound.Start()

	orchestrator := services.NewOrchestrator(store, marketplace, visionService, outbound, services.NewClock())

	// Re-arm debounce timers and restart stale analyses from before the restart
	if err := orchestrator.Recover(); err != nil {
		log.Fatal("Failed to recover in-flight sessions:", err)
	}

	// Periodic cleanup of finished sessions and their photos
	retentionJob := jobs.NewRetentionJob(store)
	retentionJob.Start()

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "ListaFacil Backend v1.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	routes.SetupRoutes(app, store, orchestrator, twilioService)

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		log.Println("⏹️  Stopping retention job...")
		retentionJob.Stop()
		log.Println("⏹️  Shutting down server...")
		_ = app.Shutdown()
		log.Println("⏹️  Draining work queues...")
		orchestrator.Shutdown()
		outbound.Stop()
		store.Close()
	}()

	// Start server
	log.Println("========================================")
	log.Printf("🚀 ListaFacil Backend starting on port %s", port)
	log.Printf("📊 Storage: %s", getStorageType())
	log.Printf("🌍 Environment: %s", getEnvironment())
	log.Println("========================================")

	log.Fatal(app.Listen(":" + port))
}

func getEnvironment() string {
	if os.Getenv("INSTANCE_CONNECTION_NAME") != "" {
		return "Production (Cloud Run)"
	}
	return "Development (Local)"
}

func getStorageType() string {
	if os.Getenv("USE_DB_STORE") == "true" {
		return "PostgreSQL (single document)"
	}
	return "File (atomic rename)"
}

package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"membermail/config"
	"membermail/middleware"
	"membermail/routes"
	"membermail/utils"
	"membermail/worker"
)

func main() {
	logger := log.New(os.Stdout, "ENGINE: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Sentry when a DSN is configured
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	mailer := utils.NewSMTPMailer(
		config.AppConfig.SMTPHost,
		config.AppConfig.SMTPPort,
		config.AppConfig.SMTPUsername,
		config.AppConfig.SMTPPassword,
	)
	progress := utils.NewProgressAPIClient(
		config.AppConfig.ProgressAPIBaseURL,
		config.AppConfig.ProgressAPIKey,
	)
	structureCache := utils.NewCourseStructureCache(utils.DefaultStructureTTL, nil)

	dispatcher := worker.NewTriggerDispatcher(config.DB, log.New(os.Stdout, "DISPATCH: ", log.LstdFlags))
	jobWorker := worker.NewJobWorker(config.DB, mailer, log.New(os.Stdout, "JOBS: ", log.LstdFlags))
	evaluator := worker.NewWatchEvaluator(config.DB, progress, structureCache, dispatcher, log.New(os.Stdout, "WATCHES: ", log.LstdFlags))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jobWorker.Start(ctx)
	go evaluator.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, dispatcher, jobWorker, evaluator)

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

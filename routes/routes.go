package routes

import (
	"log"
	"os"

	controller "membermail/controllers"
	"membermail/middleware"
	"membermail/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

// SetupRoutes wires the webhook ingress, internal endpoints and the
// sequence CRUD surface. Worker instances are shared with the manual
// reconcile/drain endpoints so both paths run the same code.
func SetupRoutes(app *fiber.App, db *gorm.DB, dispatcher *worker.TriggerDispatcher, jobWorker *worker.JobWorker, evaluator *worker.WatchEvaluator) {
	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	webhookController := controller.NewWebhookController(db, dispatcher, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags))
	adminController := controller.NewAdminController(jobWorker, evaluator, log.New(os.Stdout, "ADMIN: ", log.LstdFlags))
	sequenceController := controller.NewSequenceController(db, log.New(os.Stdout, "SEQUENCE: ", log.LstdFlags))

	// Webhook ingress from the membership platform
	webhooks := app.Group("/webhooks", middleware.WebhookRateLimiter(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhooks.Post("/platform", webhookController.HandlePlatformWebhook)

	// Manual reconcile/drain, protected by the shared internal token
	internal := app.Group("/internal", middleware.InternalAuth())
	internal.Post("/reconcile-watches", adminController.ReconcileWatches)
	internal.Post("/drain-jobs", adminController.DrainJobs)

	// Sequence/step CRUD for the dashboard backend
	api := app.Group("/api/v1", middleware.InternalAuth(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	sequences := api.Group("/tenants/:tenantID/sequences")
	sequences.Post("/", sequenceController.CreateSequence)
	sequences.Get("/", sequenceController.GetSequences)
	sequences.Get("/:id", sequenceController.GetSequence)
	sequences.Put("/:id", sequenceController.UpdateSequence)
	sequences.Put("/:id/status", sequenceController.UpdateSequenceStatus)
	sequences.Delete("/:id", sequenceController.DeleteSequence)
	sequences.Post("/:id/steps", sequenceController.AddStep)
	sequences.Put("/:id/steps/:stepID", sequenceController.UpdateStep)
	sequences.Delete("/:id/steps/:stepID", sequenceController.DeleteStep)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})

	log.Println("Routes initialized successfully")
}

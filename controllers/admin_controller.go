package controller

import (
	"log"

	"membermail/worker"

	"github.com/gofiber/fiber/v2"
)

// AdminController exposes the manual reconcile and drain endpoints used
// by operators and by the external cron scheduler.
type AdminController struct {
	JobWorker *worker.JobWorker
	Evaluator *worker.WatchEvaluator
	Logger    *log.Logger
}

func NewAdminController(jobWorker *worker.JobWorker, evaluator *worker.WatchEvaluator, logger *log.Logger) *AdminController {
	return &AdminController{
		JobWorker: jobWorker,
		Evaluator: evaluator,
		Logger:    logger,
	}
}

// ReconcileWatches processes one batch of deferred trigger watches.
func (ac *AdminController) ReconcileWatches(c *fiber.Ctx) error {
	stats := ac.Evaluator.EvaluateOnce()
	return c.JSON(fiber.Map{
		"processed": stats.Processed,
		"triggered": stats.Triggered,
		"skipped":   stats.Skipped,
	})
}

// DrainJobs processes one batch of due automation jobs.
func (ac *AdminController) DrainJobs(c *fiber.Ctx) error {
	stats := ac.JobWorker.DrainOnce()
	return c.JSON(fiber.Map{
		"processed": stats.Processed,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
	})
}

package controller

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"membermail/models"
	"membermail/utils"
	"membermail/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WebhookController ingests membership platform events. It always
// answers fast: fallible downstream work happens out-of-band so a slow
// dispatch can never make the platform time out or retry-storm.
type WebhookController struct {
	DB         *gorm.DB
	Dispatcher *worker.TriggerDispatcher
	Logger     *log.Logger
	Now        func() time.Time
}

func NewWebhookController(db *gorm.DB, dispatcher *worker.TriggerDispatcher, logger *log.Logger) *WebhookController {
	return &WebhookController{
		DB:         db,
		Dispatcher: dispatcher,
		Logger:     logger,
		Now:        time.Now,
	}
}

// tenantProbe covers both identity shapes the platform uses, only to
// find which secret to verify against.
type tenantProbe struct {
	Group   struct{ ID string `json:"id"` } `json:"group"`
	GroupID string                          `json:"group_id"`
}

// HandlePlatformWebhook processes one signed platform event.
func (wc *WebhookController) HandlePlatformWebhook(c *fiber.Ctx) error {
	body := c.Body()

	var envelope utils.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event envelope",
		})
	}

	// The signing secret is per tenant, so the tenant must be
	// resolvable before verification can even be attempted
	var probe tenantProbe
	_ = json.Unmarshal(envelope.Data, &probe)
	platformGroupID := probe.Group.ID
	if platformGroupID == "" {
		platformGroupID = probe.GroupID
	}
	if platformGroupID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unknown tenant",
		})
	}

	var tenant models.Tenant
	if err := wc.DB.Where("platform_group_id = ?", platformGroupID).First(&tenant).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unknown tenant",
		})
	}

	var secret models.TenantWebhookSecret
	if err := wc.DB.Where("tenant_id = ?", tenant.ID).First(&secret).Error; err != nil {
		wc.Logger.Printf("Tenant %d has no webhook secret configured", tenant.ID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unknown tenant",
		})
	}

	if err := utils.VerifyWebhookSignature(body, c.Get("x-signature"), secret.Secret, wc.Now()); err != nil {
		utils.LogEvent("webhook_rejected", map[string]interface{}{
			"tenant_id": tenant.ID,
			"reason":    err.Error(),
		})
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid signature",
		})
	}

	kind := utils.NormalizeEventName(envelope.Action)
	if kind == utils.TriggerUnknown {
		logrus.WithField("action", envelope.Action).Debug("Unrecognized platform event, ignoring")
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	eventCtx, err := utils.ExtractEventContext(kind, envelope.Data)
	if err != nil {
		if errors.Is(err, utils.ErrNotActionable) {
			logrus.WithFields(logrus.Fields{
				"action": envelope.Action,
				"reason": err.Error(),
			}).Debug("Dropping non-actionable event")
			return c.JSON(fiber.Map{"status": "ignored"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid event payload",
		})
	}

	var member models.Member
	if err := wc.DB.Where("tenant_id = ? AND platform_member_id = ?", tenant.ID, eventCtx.MemberID).
		First(&member).Error; err != nil {
		logrus.WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"member":    eventCtx.MemberID,
		}).Debug("Dropping event for unknown member")
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	// Acknowledge before dispatch side effects complete
	wc.Dispatcher.DispatchAsync(worker.DispatchEvent{
		TenantID:  tenant.ID,
		Kind:      kind,
		MemberID:  member.ID,
		CourseID:  eventCtx.CourseID,
		ChapterID: eventCtx.ChapterID,
		LessonID:  eventCtx.LessonID,
	})

	return c.JSON(fiber.Map{"status": "accepted"})
}

package controller

import (
	"errors"
	"log"

	"membermail/models"
	"membermail/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SequenceController is the thin CRUD surface for sequences and steps.
// The engine itself only reads what this writes.
type SequenceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSequenceController(db *gorm.DB, logger *log.Logger) *SequenceController {
	return &SequenceController{DB: db, Logger: logger}
}

type sequenceInput struct {
	Name           string               `json:"name" validate:"required,min=1,max=200"`
	TriggerEvent   string               `json:"trigger_event" validate:"required,trigger_kind"`
	TriggerConfig  models.TriggerConfig `json:"trigger_config"`
	Timezone       string               `json:"timezone"`
	QuietStartHour *int                 `json:"quiet_start_hour" validate:"omitempty,min=0,max=23"`
	QuietEndHour   *int                 `json:"quiet_end_hour" validate:"omitempty,min=0,max=23"`
}

type stepInput struct {
	CampaignID uint   `json:"campaign_id" validate:"required"`
	DelayValue int    `json:"delay_value" validate:"min=0"`
	DelayUnit  string `json:"delay_unit" validate:"required,delay_unit"`
	Position   int    `json:"position" validate:"omitempty,min=1"`
}

func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	tenantID := utils.ParseUint(c.Params("tenantID"))

	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sequence := models.AutomationSequence{
		TenantID:       tenantID,
		Name:           input.Name,
		Status:         models.SequenceStatusDraft,
		TriggerEvent:   input.TriggerEvent,
		TriggerConfig:  input.TriggerConfig,
		Timezone:       input.Timezone,
		QuietStartHour: input.QuietStartHour,
		QuietEndHour:   input.QuietEndHour,
		IsEnabled:      true,
	}
	if err := sc.DB.Create(&sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sequence", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	tenantID := utils.ParseUint(c.Params("tenantID"))

	var sequences []models.AutomationSequence
	if err := sc.DB.Where("tenant_id = ?", tenantID).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Find(&sequences).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequences", err)
	}

	return c.JSON(utils.SuccessResponse(sequences))
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c)
	if err != nil {
		return err
	}
	return c.JSON(utils.SuccessResponse(sequence))
}

func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c)
	if err != nil {
		return err
	}

	var input sequenceInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sequence.Name = input.Name
	sequence.TriggerEvent = input.TriggerEvent
	sequence.TriggerConfig = input.TriggerConfig
	sequence.Timezone = input.Timezone
	sequence.QuietStartHour = input.QuietStartHour
	sequence.QuietEndHour = input.QuietEndHour

	if err := sc.DB.Save(sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sequence", err)
	}
	return c.JSON(utils.SuccessResponse(sequence))
}

type statusInput struct {
	Status string `json:"status" validate:"required,oneof=draft active paused archived"`
}

// UpdateSequenceStatus toggles a sequence between draft, active, paused
// and archived. Pausing cancels nothing in flight; already-claimed jobs
// run to completion and the worker cancels anything claimed later.
func (sc *SequenceController) UpdateSequenceStatus(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c)
	if err != nil {
		return err
	}

	var input statusInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	sequence.Status = input.Status
	if err := sc.DB.Save(sequence).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update status", err)
	}

	utils.LogEvent("sequence_status_changed", map[string]interface{}{
		"sequence_id": sequence.ID,
		"status":      input.Status,
	})
	return c.JSON(utils.SuccessResponse(sequence))
}

// DeleteSequence removes a sequence, its steps and its pending jobs in
// one transaction. Claimed jobs are left to finish.
func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c)
	if err != nil {
		return err
	}

	err = sc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AutomationJob{}).
			Where("sequence_id = ? AND status = ?", sequence.ID, models.JobStatusPending).
			Update("status", models.JobStatusCancelled).Error; err != nil {
			return err
		}
		if err := tx.Where("sequence_id = ?", sequence.ID).Delete(&models.AutomationStep{}).Error; err != nil {
			return err
		}
		return tx.Delete(sequence).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sequence", err)
	}

	return c.JSON(fiber.Map{"message": "Sequence deleted"})
}

// AddStep appends a step, or inserts it at the requested position and
// shifts the remainder so positions stay a dense 1..N run.
func (sc *SequenceController) AddStep(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c)
	if err != nil {
		return err
	}

	var input stepInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var step models.AutomationStep
	err = sc.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.AutomationStep{}).
			Where("sequence_id = ?", sequence.ID).Count(&count).Error; err != nil {
			return err
		}

		position := input.Position
		if position == 0 || position > int(count)+1 {
			position = int(count) + 1
		} else {
			// Shift everything at or after the insertion point
			if err := tx.Model(&models.AutomationStep{}).
				Where("sequence_id = ? AND position >= ?", sequence.ID, position).
				Update("position", gorm.Expr("position + 1")).Error; err != nil {
				return err
			}
		}

		step = models.AutomationStep{
			SequenceID: sequence.ID,
			CampaignID: input.CampaignID,
			Position:   position,
			DelayValue: input.DelayValue,
			DelayUnit:  input.DelayUnit,
		}
		return tx.Create(&step).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to add step", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(step))
}

func (sc *SequenceController) UpdateStep(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c)
	if err != nil {
		return err
	}

	var step models.AutomationStep
	if err := sc.DB.Where("id = ? AND sequence_id = ?", c.Params("stepID"), sequence.ID).
		First(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
	}

	var input stepInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	step.CampaignID = input.CampaignID
	step.DelayValue = input.DelayValue
	step.DelayUnit = input.DelayUnit
	if err := sc.DB.Save(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update step", err)
	}

	return c.JSON(utils.SuccessResponse(step))
}

// DeleteStep removes a step and renumbers the remainder atomically;
// pending jobs for the step are cancelled.
func (sc *SequenceController) DeleteStep(c *fiber.Ctx) error {
	sequence, err := sc.findSequence(c)
	if err != nil {
		return err
	}

	var step models.AutomationStep
	if err := sc.DB.Where("id = ? AND sequence_id = ?", c.Params("stepID"), sequence.ID).
		First(&step).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Step not found", nil)
	}

	err = sc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AutomationJob{}).
			Where("step_id = ? AND status = ?", step.ID, models.JobStatusPending).
			Update("status", models.JobStatusCancelled).Error; err != nil {
			return err
		}
		if err := tx.Delete(&step).Error; err != nil {
			return err
		}
		// Close the gap so positions stay dense
		return tx.Model(&models.AutomationStep{}).
			Where("sequence_id = ? AND position > ?", sequence.ID, step.Position).
			Update("position", gorm.Expr("position - 1")).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete step", err)
	}

	return c.JSON(fiber.Map{"message": "Step deleted"})
}

func (sc *SequenceController) findSequence(c *fiber.Ctx) (*models.AutomationSequence, error) {
	tenantID := utils.ParseUint(c.Params("tenantID"))

	var sequence models.AutomationSequence
	err := sc.DB.Where("id = ? AND tenant_id = ?", c.Params("id"), tenantID).
		First(&sequence).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorResponse(c, fiber.StatusNotFound, "Sequence not found", nil)
		}
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sequence", err)
	}
	return &sequence, nil
}

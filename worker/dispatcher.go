package worker

import (
	"errors"
	"fmt"
	"log"
	"time"

	"membermail/models"
	"membermail/utils"

	"gorm.io/gorm"
)

// DispatchEvent is one resolved trigger occurrence handed to the
// dispatcher by the webhook ingress or the watch evaluator.
type DispatchEvent struct {
	TenantID   uint
	Kind       utils.TriggerKind
	MemberID   uint
	CourseID   string
	ChapterID  string
	LessonID   string
	OccurredAt *time.Time
}

// TriggerDispatcher resolves matching active sequences for a trigger
// occurrence and creates enrollments plus the first scheduled job.
type TriggerDispatcher struct {
	DB     *gorm.DB
	Logger *log.Logger
	Now    func() time.Time
}

func NewTriggerDispatcher(db *gorm.DB, logger *log.Logger) *TriggerDispatcher {
	return &TriggerDispatcher{
		DB:     db,
		Logger: logger,
		Now:    time.Now,
	}
}

// DispatchAsync runs Dispatch detached from the caller. Failures are
// logged, never surfaced, so webhook response latency stays independent
// of dispatch latency.
func (td *TriggerDispatcher) DispatchAsync(ev DispatchEvent) {
	go func() {
		if err := td.Dispatch(ev); err != nil {
			utils.LogError("trigger_dispatch_failed", err, map[string]interface{}{
				"tenant_id": ev.TenantID,
				"member_id": ev.MemberID,
				"trigger":   string(ev.Kind),
			})
		}
	}()
}

// Dispatch enrolls the member into every matching active sequence and
// schedules the first step's job. Re-dispatch for a member already
// actively enrolled in a sequence is a no-op for that sequence.
//
// Two trigger kinds carry watch bookkeeping with them: course
// enrollment arms the tenant's deferred watches, and a directly
// observed lesson start settles any watch still polling for that
// lesson so the evaluator cannot fire the same occurrence again.
func (td *TriggerDispatcher) Dispatch(ev DispatchEvent) error {
	switch ev.Kind {
	case utils.TriggerCourseEnrolled:
		if err := td.ArmDeferredWatches(ev.TenantID, ev.MemberID, ev.CourseID); err != nil {
			utils.LogError("watch_arm_failed", err, map[string]interface{}{
				"tenant_id": ev.TenantID,
				"member_id": ev.MemberID,
				"course_id": ev.CourseID,
			})
		}
	case utils.TriggerLessonStarted:
		if err := td.settleLessonWatches(ev); err != nil {
			utils.LogError("watch_settle_failed", err, map[string]interface{}{
				"tenant_id": ev.TenantID,
				"member_id": ev.MemberID,
				"course_id": ev.CourseID,
				"lesson_id": ev.LessonID,
			})
		}
	}

	var sequences []models.AutomationSequence
	if err := td.DB.Where("tenant_id = ? AND trigger_event = ? AND status = ?",
		ev.TenantID, string(ev.Kind), models.SequenceStatusActive).
		Find(&sequences).Error; err != nil {
		return fmt.Errorf("looking up sequences for trigger %s: %w", ev.Kind, err)
	}

	var firstErr error
	for _, seq := range sequences {
		if !seq.IsEnabled {
			continue
		}
		// Course-scoped sequences only match events for their course
		if seq.TriggerConfig.CourseID != "" && ev.CourseID != "" && seq.TriggerConfig.CourseID != ev.CourseID {
			continue
		}

		if err := td.enroll(seq, ev); err != nil {
			td.Logger.Printf("Failed to enroll member %d in sequence %d: %v", ev.MemberID, seq.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (td *TriggerDispatcher) enroll(seq models.AutomationSequence, ev DispatchEvent) error {
	// Idempotency: an existing non-terminal enrollment means this
	// trigger already fired for the member
	var existing models.AutomationEnrollment
	err := td.DB.Where("sequence_id = ? AND member_id = ? AND status = ?",
		seq.ID, ev.MemberID, models.EnrollmentStatusActive).
		First(&existing).Error
	if err == nil {
		td.Logger.Printf("Member %d already enrolled in sequence %d, skipping", ev.MemberID, seq.ID)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("checking existing enrollment: %w", err)
	}

	var firstStep models.AutomationStep
	if err := td.DB.Where("sequence_id = ? AND position = ?", seq.ID, 1).
		First(&firstStep).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			td.Logger.Printf("Sequence %d has no steps, skipping enrollment", seq.ID)
			return nil
		}
		return fmt.Errorf("loading first step: %w", err)
	}

	enrollment := models.AutomationEnrollment{
		SequenceID:  seq.ID,
		MemberID:    ev.MemberID,
		CurrentStep: firstStep.Position,
		Status:      models.EnrollmentStatusActive,
	}
	if err := td.DB.Create(&enrollment).Error; err != nil {
		return fmt.Errorf("creating enrollment: %w", err)
	}

	job := models.AutomationJob{
		SequenceID:   seq.ID,
		StepID:       firstStep.ID,
		CampaignID:   firstStep.CampaignID,
		MemberID:     ev.MemberID,
		EnrollmentID: enrollment.ID,
		ScheduledAt:  td.Now().Add(firstStep.Delay()),
		Status:       models.JobStatusPending,
	}
	if err := td.DB.Create(&job).Error; err != nil {
		return fmt.Errorf("creating first job: %w", err)
	}

	logData := map[string]interface{}{
		"tenant_id":   ev.TenantID,
		"member_id":   ev.MemberID,
		"sequence_id": seq.ID,
		"trigger":     string(ev.Kind),
	}
	if ev.OccurredAt != nil {
		logData["occurred_at"] = ev.OccurredAt.Format(time.RFC3339)
	}
	utils.LogEvent("automation_enrolled", logData)
	return nil
}

package worker

import (
	"errors"
	"fmt"

	"membermail/models"
	"membermail/utils"

	"gorm.io/gorm"
)

// ArmDeferredWatches creates watch records for every active sequence of
// the tenant whose trigger kind must be polled rather than decided from
// a single event. Called when a member enrolls in a course. Arming is
// idempotent per (member, course, kind, sequence metadata).
func (td *TriggerDispatcher) ArmDeferredWatches(tenantID, memberID uint, courseID string) error {
	var sequences []models.AutomationSequence
	if err := td.DB.Where("tenant_id = ? AND status = ?", tenantID, models.SequenceStatusActive).
		Find(&sequences).Error; err != nil {
		return fmt.Errorf("looking up sequences for watch arming: %w", err)
	}

	var firstErr error
	for _, seq := range sequences {
		kind := utils.TriggerKind(seq.TriggerEvent)
		if !utils.DeferredTriggerKinds[kind] || !seq.IsEnabled {
			continue
		}
		if seq.TriggerConfig.CourseID != "" && seq.TriggerConfig.CourseID != courseID {
			continue
		}

		if err := td.armWatch(seq, kind, tenantID, memberID, courseID); err != nil {
			td.Logger.Printf("Failed to arm %s watch for member %d: %v", kind, memberID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (td *TriggerDispatcher) armWatch(seq models.AutomationSequence, kind utils.TriggerKind, tenantID, memberID uint, courseID string) error {
	metadata := models.WatchMetadata{
		ChapterID: seq.TriggerConfig.ChapterID,
		LessonID:  seq.TriggerConfig.LessonID,
		WaitDays:  seq.TriggerConfig.WaitDays,
	}

	var existing models.CourseTriggerWatch
	err := td.DB.Where(
		"tenant_id = ? AND member_id = ? AND course_id = ? AND trigger_kind = ? AND satisfied_at IS NULL",
		tenantID, memberID, courseID, string(kind)).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("checking existing watch: %w", err)
	}

	watch := models.CourseTriggerWatch{
		TenantID:    tenantID,
		MemberID:    memberID,
		CourseID:    courseID,
		TriggerKind: string(kind),
		Metadata:    metadata,
	}
	if err := td.DB.Create(&watch).Error; err != nil {
		return fmt.Errorf("creating watch: %w", err)
	}

	utils.LogEvent("watch_armed", map[string]interface{}{
		"tenant_id": tenantID,
		"member_id": memberID,
		"course_id": courseID,
		"trigger":   string(kind),
	})
	return nil
}

// settleLessonWatches closes lesson-scoped watches when the platform
// reports the lesson start directly. The started watch would otherwise
// fire again on the next evaluation pass, and the not-started watch no
// longer has anything to remind about.
func (td *TriggerDispatcher) settleLessonWatches(ev DispatchEvent) error {
	var watches []models.CourseTriggerWatch
	if err := td.DB.Where(
		"tenant_id = ? AND member_id = ? AND course_id = ? AND trigger_kind IN ? AND satisfied_at IS NULL",
		ev.TenantID, ev.MemberID, ev.CourseID,
		[]string{string(utils.TriggerLessonStarted), string(utils.TriggerLessonNotStarted)}).
		Find(&watches).Error; err != nil {
		return fmt.Errorf("loading lesson watches: %w", err)
	}

	now := td.Now()
	for i := range watches {
		watch := &watches[i]
		if watch.Metadata.LessonID != "" && watch.Metadata.LessonID != ev.LessonID {
			continue
		}
		watch.SatisfiedAt = &now
		if err := td.DB.Save(watch).Error; err != nil {
			return fmt.Errorf("settling watch %d: %w", watch.ID, err)
		}
	}
	return nil
}

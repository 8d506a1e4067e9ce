package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"membermail/models"
	"membermail/utils"

	"gorm.io/gorm"
)

const (
	watchBatchSize    = 50
	watchTickInterval = 5 * time.Minute
)

// WatchEvaluator periodically re-evaluates deferred trigger conditions
// against the member's current course progress.
type WatchEvaluator struct {
	DB         *gorm.DB
	Progress   utils.ProgressSource
	Cache      *utils.CourseStructureCache
	Dispatcher *TriggerDispatcher
	Logger     *log.Logger
	Now        func() time.Time
}

func NewWatchEvaluator(db *gorm.DB, progress utils.ProgressSource, cache *utils.CourseStructureCache, dispatcher *TriggerDispatcher, logger *log.Logger) *WatchEvaluator {
	return &WatchEvaluator{
		DB:         db,
		Progress:   progress,
		Cache:      cache,
		Dispatcher: dispatcher,
		Logger:     logger,
		Now:        time.Now,
	}
}

// EvalStats summarizes one evaluation pass.
type EvalStats struct {
	Processed int `json:"processed"`
	Triggered int `json:"triggered"`
	Skipped   int `json:"skipped"`
}

func (we *WatchEvaluator) Start(ctx context.Context) {
	we.Logger.Println("Watch evaluator started")

	ticker := time.NewTicker(watchTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			we.Logger.Println("Watch evaluator shutting down...")
			return
		case <-ticker.C:
			we.EvaluateOnce()
		}
	}
}

type watchGroup struct {
	memberID uint
	courseID string
}

// EvaluateOnce loads one batch of unsatisfied watches, amortizes one
// progress fetch per (member, course) group and evaluates each watch's
// predicate. A fetch failure skips the group for this pass; its
// watches stay unsatisfied and are retried next tick.
func (we *WatchEvaluator) EvaluateOnce() EvalStats {
	var stats EvalStats

	var watches []models.CourseTriggerWatch
	if err := we.DB.Where("satisfied_at IS NULL").
		Order("deadline_at ASC NULLS FIRST").
		Order("id ASC").
		Limit(watchBatchSize).
		Find(&watches).Error; err != nil {
		we.Logger.Printf("Error fetching watches: %v", err)
		return stats
	}

	groups := make(map[watchGroup][]models.CourseTriggerWatch)
	var order []watchGroup
	for _, w := range watches {
		key := watchGroup{memberID: w.MemberID, courseID: w.CourseID}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], w)
	}

	for _, key := range order {
		group := groups[key]

		statusMap, structure, err := we.loadGroupState(key, group)
		if err != nil {
			we.Logger.Printf("Skipping watch group member=%d course=%s: %v", key.memberID, key.courseID, err)
			stats.Skipped += len(group)
			continue
		}

		for i := range group {
			stats.Processed++
			if we.evaluateWatch(&group[i], statusMap, structure) {
				stats.Triggered++
			}
		}
	}

	if stats.Processed > 0 || stats.Skipped > 0 {
		we.Logger.Printf("Evaluated %d watches (%d triggered, %d skipped)",
			stats.Processed, stats.Triggered, stats.Skipped)
	}
	return stats
}

// loadGroupState fetches the member's interactions and, when any watch
// in the group needs it, the course structure (cached with a bounded
// TTL).
func (we *WatchEvaluator) loadGroupState(key watchGroup, group []models.CourseTriggerWatch) (map[string]utils.LessonStatus, *utils.CourseStructure, error) {
	var member models.Member
	if err := we.DB.First(&member, key.memberID).Error; err != nil {
		return nil, nil, fmt.Errorf("loading member: %w", err)
	}

	interactions, err := we.Progress.GetInteractions(key.courseID, member.PlatformMemberID)
	if err != nil {
		return nil, nil, err
	}
	statusMap := utils.AggregateInteractions(interactions, we.Now())

	var structure *utils.CourseStructure
	for _, w := range group {
		kind := utils.TriggerKind(w.TriggerKind)
		if kind == utils.TriggerChapterCompleted || kind == utils.TriggerCourseCompleted {
			structure, err = we.Cache.Get(key.courseID, we.Progress.GetStructure)
			if err != nil {
				return nil, nil, err
			}
			break
		}
	}

	return statusMap, structure, nil
}

// evaluateWatch runs one watch's predicate and persists its
// bookkeeping. Returns true when the trigger fired.
func (we *WatchEvaluator) evaluateWatch(w *models.CourseTriggerWatch, statusMap map[string]utils.LessonStatus, structure *utils.CourseStructure) bool {
	now := we.Now()

	switch utils.TriggerKind(w.TriggerKind) {
	case utils.TriggerLessonStarted:
		st, ok := statusMap[w.Metadata.LessonID]
		if !ok {
			return false
		}
		we.fire(w, st.OccurredAt)
		we.satisfy(w, now)
		return true

	case utils.TriggerLessonNotStarted:
		if _, started := statusMap[w.Metadata.LessonID]; started {
			// The lesson was started after all; close quietly
			we.satisfy(w, now)
			return false
		}
		if w.DeadlineAt == nil {
			// First sighting: arm the deadline without firing
			we.rearm(w, now)
			return false
		}
		if !now.Before(*w.DeadlineAt) {
			// This kind repeats: fire, then push the deadline out
			// another wait_days instead of closing the watch
			we.fire(w, now)
			we.rearm(w, now)
			return true
		}
		return false

	case utils.TriggerChapterCompleted:
		if structure == nil {
			return false
		}
		lessons := structure.ChapterLessons(w.Metadata.ChapterID)
		if len(lessons) == 0 {
			we.Logger.Printf("Watch %d: chapter %s not in course %s structure", w.ID, w.Metadata.ChapterID, w.CourseID)
			return false
		}
		done, latest := allCompleted(lessons, statusMap)
		if !done {
			return false
		}
		we.fire(w, latest)
		we.satisfy(w, now)
		return true

	case utils.TriggerCourseCompleted:
		if structure == nil {
			return false
		}
		lessons := structure.LessonIDs()
		if len(lessons) == 0 {
			return false
		}
		done, latest := allCompleted(lessons, statusMap)
		if !done {
			return false
		}
		we.fire(w, latest)
		we.satisfy(w, now)
		return true

	case utils.TriggerCourseStarted:
		occurredAt, ok := earliestActivity(statusMap)
		if !ok {
			return false
		}
		we.fire(w, occurredAt)
		we.satisfy(w, now)
		return true

	default:
		we.Logger.Printf("Watch %d has unknown trigger kind %q", w.ID, w.TriggerKind)
		return false
	}
}

// fire dispatches the trigger with the occurrence time taken from the
// status map. Dispatch failures are logged and never roll back the
// watch bookkeeping; the enrollment idempotency check makes a re-fire
// harmless.
func (we *WatchEvaluator) fire(w *models.CourseTriggerWatch, occurredAt time.Time) {
	w.Metadata.OccurredAt = occurredAt.Format(time.RFC3339)

	err := we.Dispatcher.Dispatch(DispatchEvent{
		TenantID:   w.TenantID,
		Kind:       utils.TriggerKind(w.TriggerKind),
		MemberID:   w.MemberID,
		CourseID:   w.CourseID,
		ChapterID:  w.Metadata.ChapterID,
		LessonID:   w.Metadata.LessonID,
		OccurredAt: &occurredAt,
	})
	if err != nil {
		utils.LogError("watch_dispatch_failed", err, map[string]interface{}{
			"watch_id":  w.ID,
			"tenant_id": w.TenantID,
			"member_id": w.MemberID,
			"trigger":   w.TriggerKind,
		})
	}
}

func (we *WatchEvaluator) satisfy(w *models.CourseTriggerWatch, now time.Time) {
	w.SatisfiedAt = &now
	if err := we.DB.Save(w).Error; err != nil {
		we.Logger.Printf("Error saving watch %d: %v", w.ID, err)
	}
}

func (we *WatchEvaluator) rearm(w *models.CourseTriggerWatch, now time.Time) {
	waitDays := w.Metadata.WaitDays
	if waitDays <= 0 {
		waitDays = 1
	}
	deadline := now.Add(time.Duration(waitDays) * 24 * time.Hour)
	w.DeadlineAt = &deadline
	if err := we.DB.Save(w).Error; err != nil {
		we.Logger.Printf("Error re-arming watch %d: %v", w.ID, err)
	}
}

// allCompleted reports whether every lesson id has completed status,
// and the latest qualifying completion time.
func allCompleted(lessons []string, statusMap map[string]utils.LessonStatus) (bool, time.Time) {
	var latest time.Time
	for _, id := range lessons {
		st, ok := statusMap[id]
		if !ok || st.Status != utils.LessonCompleted {
			return false, time.Time{}
		}
		if st.OccurredAt.After(latest) {
			latest = st.OccurredAt
		}
	}
	return true, latest
}

// earliestActivity returns the earliest started-or-completed timestamp
// across all lessons.
func earliestActivity(statusMap map[string]utils.LessonStatus) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, st := range statusMap {
		if !found || st.OccurredAt.Before(earliest) {
			earliest = st.OccurredAt
			found = true
		}
	}
	return earliest, found
}

package utils

import "time"

// Lesson statuses derived from raw interactions
const (
	LessonStarted   = "started"
	LessonCompleted = "completed"
)

// LessonInteraction is one raw progress event from the membership
// platform. The same lesson may appear many times across events.
type LessonInteraction struct {
	ItemID     string     `json:"item_id"`
	Completed  bool       `json:"completed"`
	OccurredAt *time.Time `json:"occurred_at"`
}

// LessonStatus is the final state for one lesson after aggregation.
type LessonStatus struct {
	Status     string
	OccurredAt time.Time
}

// CourseChapter is one chapter of a course's structure.
type CourseChapter struct {
	ID      string   `json:"id"`
	Lessons []string `json:"lessons"`
}

// CourseStructure is the chapter/lesson layout of a course.
type CourseStructure struct {
	Chapters []CourseChapter `json:"chapters"`
}

// LessonIDs flattens the structure into the universe of lesson ids.
func (s *CourseStructure) LessonIDs() []string {
	var ids []string
	for _, ch := range s.Chapters {
		ids = append(ids, ch.Lessons...)
	}
	return ids
}

// ChapterLessons returns the lesson ids of one chapter, or nil when the
// chapter is not part of the structure.
func (s *CourseStructure) ChapterLessons(chapterID string) []string {
	for _, ch := range s.Chapters {
		if ch.ID == chapterID {
			return ch.Lessons
		}
	}
	return nil
}

// ProgressSource reads member progress from the membership platform.
// Both reads are idempotent; transport-level retries live in the
// implementation.
type ProgressSource interface {
	GetInteractions(courseID, memberID string) ([]LessonInteraction, error)
	GetStructure(courseID string) (*CourseStructure, error)
}

// AggregateInteractions folds raw interactions into a per-lesson status
// map. Completed always wins over started for the same lesson, and the
// timestamp kept is the most informative one for the final status,
// falling back to now when the platform omitted it. Deterministic
// regardless of input order.
func AggregateInteractions(interactions []LessonInteraction, now time.Time) map[string]LessonStatus {
	result := make(map[string]LessonStatus, len(interactions))

	for _, in := range interactions {
		occurred := now
		if in.OccurredAt != nil {
			occurred = *in.OccurredAt
		}

		status := LessonStarted
		if in.Completed {
			status = LessonCompleted
		}

		existing, ok := result[in.ItemID]
		if !ok {
			result[in.ItemID] = LessonStatus{Status: status, OccurredAt: occurred}
			continue
		}

		switch {
		case status == LessonCompleted && existing.Status != LessonCompleted:
			result[in.ItemID] = LessonStatus{Status: LessonCompleted, OccurredAt: occurred}
		case status == existing.Status && in.OccurredAt != nil && occurred.After(existing.OccurredAt):
			existing.OccurredAt = occurred
			result[in.ItemID] = existing
		}
	}

	return result
}

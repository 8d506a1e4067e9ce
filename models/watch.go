package models

import (
	"time"

	"gorm.io/gorm"
)

// WatchMetadata carries trigger parameters a watch needs at
// evaluation time.
type WatchMetadata struct {
	ChapterID  string `json:"chapter_id,omitempty"`
	LessonID   string `json:"lesson_id,omitempty"`
	WaitDays   int    `json:"wait_days,omitempty"`
	OccurredAt string `json:"occurred_at,omitempty"` // set when the watch fires
}

// CourseTriggerWatch represents a trigger condition that cannot be
// decided from a single webhook and is polled instead. It lives until
// SatisfiedAt is set or it is removed externally.
type CourseTriggerWatch struct {
	gorm.Model
	TenantID uint   `gorm:"not null;index" json:"tenant_id"`
	MemberID uint   `gorm:"not null;index" json:"member_id"`
	CourseID string `gorm:"not null;index" json:"course_id"`

	TriggerKind string        `gorm:"not null" json:"trigger_kind"`
	Metadata    WatchMetadata `gorm:"type:jsonb;serializer:json" json:"metadata"`

	DeadlineAt  *time.Time `gorm:"index" json:"deadline_at"`
	SatisfiedAt *time.Time `json:"satisfied_at"`
}

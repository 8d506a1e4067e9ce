package models

import (
	"time"

	"gorm.io/gorm"
)

// Sequence statuses
const (
	SequenceStatusDraft    = "draft"
	SequenceStatusActive   = "active"
	SequenceStatusPaused   = "paused"
	SequenceStatusArchived = "archived"
)

// Job statuses
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Enrollment statuses
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusCompleted = "completed"
)

// TriggerConfig carries trigger parameters for course-scoped triggers.
// Stored as JSON on the sequence.
type TriggerConfig struct {
	CourseID  string `json:"course_id,omitempty"`
	ChapterID string `json:"chapter_id,omitempty"`
	LessonID  string `json:"lesson_id,omitempty"`
	WaitDays  int    `json:"wait_days,omitempty"`
}

// AutomationSequence is a tenant-defined workflow bound to exactly one
// trigger kind.
type AutomationSequence struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Name         string `gorm:"not null" json:"name"`
	Status       string `gorm:"default:'draft'" json:"status"` // draft, active, paused, archived
	TriggerEvent string `gorm:"not null;index" json:"trigger_event"`

	TriggerConfig TriggerConfig `gorm:"type:jsonb;serializer:json" json:"trigger_config"`

	// Quiet hours; when unset the tenant defaults apply
	Timezone       string `json:"timezone"`
	QuietStartHour *int   `json:"quiet_start_hour"`
	QuietEndHour   *int   `json:"quiet_end_hour"`

	IsEnabled bool `gorm:"default:true" json:"is_enabled"`

	// Relations
	Steps []AutomationStep `gorm:"foreignKey:SequenceID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

// AutomationStep is one ordered position within a sequence. Positions
// form a dense 1..N run; reordering renumbers the remainder in one
// transaction.
type AutomationStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	Position   int    `gorm:"not null" json:"position"`
	DelayValue int    `gorm:"not null" json:"delay_value"`
	DelayUnit  string `gorm:"not null;default:'days'" json:"delay_unit"` // minutes, hours, days

	// Relations
	Campaign Campaign `json:"-"`
}

// Delay converts the step's delay into a duration.
func (s *AutomationStep) Delay() time.Duration {
	d := time.Duration(s.DelayValue)
	switch s.DelayUnit {
	case "minutes":
		return d * time.Minute
	case "hours":
		return d * time.Hour
	default:
		return d * 24 * time.Hour
	}
}

// AutomationEnrollment tracks one member's progress through a sequence.
type AutomationEnrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`
	MemberID   uint `gorm:"not null;index" json:"member_id"`

	CurrentStep int        `gorm:"default:1" json:"current_step"`
	Status      string     `gorm:"default:'active'" json:"status"` // active, completed
	CompletedAt *time.Time `json:"completed_at"`
}

// AutomationJob is one durable, scheduled, retryable unit of send work.
// Workers claim a job with the conditional pending→processing update;
// only one claimer can win for a given row.
type AutomationJob struct {
	gorm.Model
	SequenceID   uint `gorm:"not null;index" json:"sequence_id"`
	StepID       uint `gorm:"not null;index" json:"step_id"`
	CampaignID   uint `gorm:"not null" json:"campaign_id"`
	MemberID     uint `gorm:"not null;index" json:"member_id"`
	EnrollmentID uint `gorm:"not null;index" json:"enrollment_id"`

	ScheduledAt time.Time  `gorm:"not null;index" json:"scheduled_at"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	Status      string     `gorm:"default:'pending';index" json:"status"` // pending, processing, completed, failed, cancelled
	LastError   string     `json:"last_error"`
	MessageID   string     `json:"message_id"`
	SentAt      *time.Time `json:"sent_at"`
}

package utils

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TriggerKind is the closed set of internal trigger kinds sequences can
// bind to. Unrecognized provider events normalize to TriggerUnknown and
// are dropped, not errored.
type TriggerKind string

const (
	TriggerUnknown TriggerKind = ""

	TriggerMembershipStarted TriggerKind = "membership_started"
	TriggerMembershipEnded   TriggerKind = "membership_ended"
	TriggerPaymentFailed     TriggerKind = "payment_failed"
	TriggerCourseEnrolled    TriggerKind = "course_enrolled"
	TriggerLessonStarted     TriggerKind = "course_lesson_started"
	TriggerLessonNotStarted  TriggerKind = "course_lesson_not_started_after_x_days"
	TriggerChapterCompleted  TriggerKind = "course_chapter_completed"
	TriggerCourseStarted     TriggerKind = "course_started"
	TriggerCourseCompleted   TriggerKind = "course_completed"
)

// ErrNotActionable marks events that parsed but are missing required
// context. They are dropped and logged at debug level, never retried.
var ErrNotActionable = errors.New("event not actionable")

// eventNameMap maps provider event names onto internal trigger kinds.
// Deferred kinds (chapter/course completion, not-started) never arrive
// as provider events; they are armed as watches on course enrollment.
var eventNameMap = map[string]TriggerKind{
	"member.joined":             TriggerMembershipStarted,
	"membership.started":        TriggerMembershipStarted,
	"member.left":               TriggerMembershipEnded,
	"membership.ended":          TriggerMembershipEnded,
	"invoice.payment_failed":    TriggerPaymentFailed,
	"payment.failed":            TriggerPaymentFailed,
	"course.enrollment.created": TriggerCourseEnrolled,
	"course.enrolled":           TriggerCourseEnrolled,
	"course.lesson.started":     TriggerLessonStarted,
}

// DeferredTriggerKinds are the kinds that are evaluated by polling
// instead of dispatched from a single webhook.
var DeferredTriggerKinds = map[TriggerKind]bool{
	TriggerLessonStarted:    true,
	TriggerLessonNotStarted: true,
	TriggerChapterCompleted: true,
	TriggerCourseStarted:    true,
	TriggerCourseCompleted:  true,
}

// NormalizeEventName maps a provider event name to an internal trigger
// kind, TriggerUnknown if unrecognized.
func NormalizeEventName(action string) TriggerKind {
	return eventNameMap[action]
}

// EventContext is the normalized identity extracted from a provider
// payload.
type EventContext struct {
	TenantID  string
	MemberID  string
	CourseID  string
	ChapterID string
	LessonID  string
}

// Known payload shapes. The platform nests identities for membership
// and course events but flattens them for billing events.

type idRef struct {
	ID string `json:"id"`
}

type membershipPayload struct {
	Member idRef `json:"member"`
	Group  idRef `json:"group"`
}

type billingPayload struct {
	MemberID string `json:"member_id"`
	GroupID  string `json:"group_id"`
}

type coursePayload struct {
	Member  idRef `json:"member"`
	Group   idRef `json:"group"`
	Course  idRef `json:"course"`
	Chapter idRef `json:"chapter"`
	Lesson  idRef `json:"lesson"`
}

// ExtractEventContext parses the payload shape belonging to the trigger
// kind's event family. Missing required fields make the event
// non-actionable.
func ExtractEventContext(kind TriggerKind, data json.RawMessage) (*EventContext, error) {
	switch kind {
	case TriggerMembershipStarted, TriggerMembershipEnded:
		var p membershipPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotActionable, err)
		}
		if p.Member.ID == "" || p.Group.ID == "" {
			return nil, fmt.Errorf("%w: membership event missing member or group id", ErrNotActionable)
		}
		return &EventContext{TenantID: p.Group.ID, MemberID: p.Member.ID}, nil

	case TriggerPaymentFailed:
		var p billingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotActionable, err)
		}
		if p.MemberID == "" || p.GroupID == "" {
			return nil, fmt.Errorf("%w: billing event missing member_id or group_id", ErrNotActionable)
		}
		return &EventContext{TenantID: p.GroupID, MemberID: p.MemberID}, nil

	case TriggerCourseEnrolled, TriggerLessonStarted:
		var p coursePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotActionable, err)
		}
		if p.Member.ID == "" || p.Group.ID == "" || p.Course.ID == "" {
			return nil, fmt.Errorf("%w: course event missing member, group or course id", ErrNotActionable)
		}
		if kind == TriggerLessonStarted && p.Lesson.ID == "" {
			return nil, fmt.Errorf("%w: lesson event missing lesson id", ErrNotActionable)
		}
		return &EventContext{
			TenantID:  p.Group.ID,
			MemberID:  p.Member.ID,
			CourseID:  p.Course.ID,
			ChapterID: p.Chapter.ID,
			LessonID:  p.Lesson.ID,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unrecognized trigger kind %q", ErrNotActionable, kind)
	}
}

// WebhookEnvelope is the opaque event envelope the platform POSTs.
type WebhookEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

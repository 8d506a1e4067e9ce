package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	// Trigger kinds and delay units are closed sets
	validate.RegisterValidation("trigger_kind", func(fl validator.FieldLevel) bool {
		_, ok := eventKindSet[TriggerKind(fl.Field().String())]
		return ok
	})
	validate.RegisterValidation("delay_unit", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "minutes", "hours", "days":
			return true
		}
		return false
	})
}

var eventKindSet = map[TriggerKind]bool{
	TriggerMembershipStarted: true,
	TriggerMembershipEnded:   true,
	TriggerPaymentFailed:     true,
	TriggerCourseEnrolled:    true,
	TriggerLessonStarted:     true,
	TriggerLessonNotStarted:  true,
	TriggerChapterCompleted:  true,
	TriggerCourseStarted:     true,
	TriggerCourseCompleted:   true,
}

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	// Format validation errors
	var errors []string
	for _, err := range err.(validator.ValidationErrors) {
		field := strings.ToLower(err.Field())
		tag := err.Tag()
		param := err.Param()

		switch tag {
		case "required":
			errors = append(errors, field+" is required")
		case "min":
			errors = append(errors, field+" must be at least "+param)
		case "max":
			errors = append(errors, field+" must be at most "+param)
		case "trigger_kind":
			errors = append(errors, field+" must be a known trigger kind")
		case "delay_unit":
			errors = append(errors, field+" must be minutes, hours or days")
		case "oneof":
			errors = append(errors, field+" must be one of "+param)
		default:
			errors = append(errors, field+" is invalid")
		}
	}

	return fmt.Errorf("%s", strings.Join(errors, ", "))
}

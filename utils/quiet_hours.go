package utils

import (
	"fmt"
	"time"
)

// NextAllowedTime applies a quiet-hours window to an instant. The
// allowed sending window is [startHour, endHour) in local civil time;
// anything outside defers forward, never backward.
//
// Returns the deferred instant and true when the send must wait, or
// the zero time and false when it may proceed now.
func NextAllowedTime(at time.Time, timezone string, startHour, endHour int) (time.Time, bool, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	local := at.In(loc)
	hour, minute := local.Hour(), local.Minute()

	switch {
	case hour < startHour:
		wait := time.Duration((startHour-hour)*60-minute) * time.Minute
		return at.Add(wait), true, nil
	case hour >= endHour:
		// Wrap to the next day's window start
		wait := time.Duration((24-hour+startHour)*60-minute) * time.Minute
		return at.Add(wait), true, nil
	default:
		return time.Time{}, false, nil
	}
}

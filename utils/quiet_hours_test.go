package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAllowedTimeBeforeWindow(t *testing.T) {
	at := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)

	next, deferred, err := NextAllowedTime(at, "UTC", 9, 20)
	require.NoError(t, err)
	assert.True(t, deferred)
	assert.Equal(t, at.Add(30*time.Minute), next)
}

func TestNextAllowedTimeAfterWindow(t *testing.T) {
	at := time.Date(2025, 3, 10, 20, 5, 0, 0, time.UTC)

	next, deferred, err := NextAllowedTime(at, "UTC", 9, 20)
	require.NoError(t, err)
	assert.True(t, deferred)
	// Wraps to the next day's 09:00, 12h55m away
	assert.Equal(t, at.Add(12*time.Hour+55*time.Minute), next)
	assert.Equal(t, 9, next.UTC().Hour())
	assert.Equal(t, 0, next.UTC().Minute())
}

func TestNextAllowedTimeInsideWindow(t *testing.T) {
	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	_, deferred, err := NextAllowedTime(at, "UTC", 9, 20)
	require.NoError(t, err)
	assert.False(t, deferred)
}

func TestNextAllowedTimeWindowStartBoundary(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	_, deferred, err := NextAllowedTime(at, "UTC", 9, 20)
	require.NoError(t, err)
	assert.False(t, deferred, "window is half-open, start hour is allowed")
}

func TestNextAllowedTimeWindowEndBoundary(t *testing.T) {
	at := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)

	next, deferred, err := NextAllowedTime(at, "UTC", 9, 20)
	require.NoError(t, err)
	assert.True(t, deferred, "window is half-open, end hour is outside")
	assert.Equal(t, at.Add(13*time.Hour), next)
}

func TestNextAllowedTimeHonorsTimezone(t *testing.T) {
	// 12:30 UTC is 08:30 in New York during DST
	at := time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC)

	next, deferred, err := NextAllowedTime(at, "America/New_York", 9, 20)
	require.NoError(t, err)
	assert.True(t, deferred)
	assert.Equal(t, at.Add(30*time.Minute), next)
}

func TestNextAllowedTimeInvalidTimezone(t *testing.T) {
	_, _, err := NextAllowedTime(time.Now(), "Not/AZone", 9, 20)
	assert.Error(t, err)
}

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(t *testing.T, s string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad fixture timestamp %q: %v", s, err)
	}
	return &parsed
}

func TestAggregateCompletedWinsRegardlessOfOrder(t *testing.T) {
	now := time.Now()
	t1 := ts(t, "2025-01-01T10:00:00Z")
	t2 := ts(t, "2025-01-02T10:00:00Z")

	forward := []LessonInteraction{
		{ItemID: "L1", Completed: false, OccurredAt: t1},
		{ItemID: "L1", Completed: true, OccurredAt: t2},
	}
	backward := []LessonInteraction{
		{ItemID: "L1", Completed: true, OccurredAt: t2},
		{ItemID: "L1", Completed: false, OccurredAt: t1},
	}

	for _, interactions := range [][]LessonInteraction{forward, backward} {
		result := AggregateInteractions(interactions, now)
		assert.Equal(t, LessonCompleted, result["L1"].Status)
		assert.Equal(t, *t2, result["L1"].OccurredAt)
	}
}

func TestAggregateKeepsLatestTimestampForSameStatus(t *testing.T) {
	now := time.Now()
	t1 := ts(t, "2025-01-01T10:00:00Z")
	t2 := ts(t, "2025-01-03T10:00:00Z")

	result := AggregateInteractions([]LessonInteraction{
		{ItemID: "L1", Completed: false, OccurredAt: t2},
		{ItemID: "L1", Completed: false, OccurredAt: t1},
	}, now)

	assert.Equal(t, LessonStarted, result["L1"].Status)
	assert.Equal(t, *t2, result["L1"].OccurredAt)
}

func TestAggregateFallsBackToNow(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	result := AggregateInteractions([]LessonInteraction{
		{ItemID: "L1", Completed: true, OccurredAt: nil},
	}, now)

	assert.Equal(t, LessonCompleted, result["L1"].Status)
	assert.Equal(t, now, result["L1"].OccurredAt)
}

func TestAggregateMultipleLessons(t *testing.T) {
	now := time.Now()
	t1 := ts(t, "2025-01-01T10:00:00Z")

	result := AggregateInteractions([]LessonInteraction{
		{ItemID: "L1", Completed: true, OccurredAt: t1},
		{ItemID: "L2", Completed: false, OccurredAt: t1},
	}, now)

	assert.Len(t, result, 2)
	assert.Equal(t, LessonCompleted, result["L1"].Status)
	assert.Equal(t, LessonStarted, result["L2"].Status)
}

func TestAggregateEmptyInput(t *testing.T) {
	result := AggregateInteractions(nil, time.Now())
	assert.Empty(t, result)
}

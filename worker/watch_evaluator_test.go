package worker

import (
	"errors"
	"testing"
	"time"

	"membermail/models"
	"membermail/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestEvaluator(db *gorm.DB, progress *fakeProgress, at time.Time) *WatchEvaluator {
	td := NewTriggerDispatcher(db, testLogger())
	td.Now = fixedClock(at)

	cache := utils.NewCourseStructureCache(utils.DefaultStructureTTL, fixedClock(at))
	we := NewWatchEvaluator(db, progress, cache, td, testLogger())
	we.Now = fixedClock(at)
	return we
}

func createWatch(t *testing.T, db *gorm.DB, tenantID, memberID uint, kind utils.TriggerKind, meta models.WatchMetadata) *models.CourseTriggerWatch {
	t.Helper()
	watch := models.CourseTriggerWatch{
		TenantID:    tenantID,
		MemberID:    memberID,
		CourseID:    "crs_1",
		TriggerKind: string(kind),
		Metadata:    meta,
	}
	require.NoError(t, db.Create(&watch).Error)
	return &watch
}

func TestEvaluateLessonStartedFiresAndSatisfies(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)
	campaign := createCampaign(t, db, tenant.ID)
	createSequence(t, db, tenant.ID, campaign.ID, utils.TriggerLessonStarted, stepSpec{0, "minutes"})

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerLessonStarted,
		models.WatchMetadata{LessonID: "les_1"})

	startedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	progress := &fakeProgress{interactions: map[string][]utils.LessonInteraction{
		progressKey("crs_1", member.PlatformMemberID): {
			{ItemID: "les_1", OccurredAt: &startedAt},
		},
	}}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	we := newTestEvaluator(db, progress, now)
	stats := we.EvaluateOnce()

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Triggered)

	require.NoError(t, db.First(watch, watch.ID).Error)
	require.NotNil(t, watch.SatisfiedAt)
	assert.Equal(t, startedAt.Format(time.RFC3339), watch.Metadata.OccurredAt)

	var enrollments int64
	db.Model(&models.AutomationEnrollment{}).Count(&enrollments)
	assert.EqualValues(t, 1, enrollments, "firing the watch enrolls the member")
}

func TestEvaluateLessonNotStartedArmsDeadlineFirst(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerLessonNotStarted,
		models.WatchMetadata{LessonID: "les_1", WaitDays: 3})

	progress := &fakeProgress{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	we := newTestEvaluator(db, progress, now)
	stats := we.EvaluateOnce()

	assert.Zero(t, stats.Triggered)

	require.NoError(t, db.First(watch, watch.ID).Error)
	assert.Nil(t, watch.SatisfiedAt)
	require.NotNil(t, watch.DeadlineAt)
	assert.WithinDuration(t, now.Add(3*24*time.Hour), *watch.DeadlineAt, time.Second)
}

func TestEvaluateLessonNotStartedFiresPastDeadlineAndRearms(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)
	campaign := createCampaign(t, db, tenant.ID)
	createSequence(t, db, tenant.ID, campaign.ID, utils.TriggerLessonNotStarted, stepSpec{0, "minutes"})

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerLessonNotStarted,
		models.WatchMetadata{LessonID: "les_1", WaitDays: 3})
	deadline := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	watch.DeadlineAt = &deadline
	require.NoError(t, db.Save(watch).Error)

	progress := &fakeProgress{}
	now := deadline.Add(2 * time.Hour)
	we := newTestEvaluator(db, progress, now)
	stats := we.EvaluateOnce()

	assert.Equal(t, 1, stats.Triggered)

	require.NoError(t, db.First(watch, watch.ID).Error)
	assert.Nil(t, watch.SatisfiedAt, "a reminder watch stays open")
	require.NotNil(t, watch.DeadlineAt)
	assert.WithinDuration(t, now.Add(3*24*time.Hour), *watch.DeadlineAt, time.Second)

	var enrollments int64
	db.Model(&models.AutomationEnrollment{}).Count(&enrollments)
	assert.EqualValues(t, 1, enrollments)
}

func TestEvaluateLessonNotStartedClosesQuietlyWhenStarted(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerLessonNotStarted,
		models.WatchMetadata{LessonID: "les_1", WaitDays: 3})
	deadline := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	watch.DeadlineAt = &deadline
	require.NoError(t, db.Save(watch).Error)

	startedAt := deadline.Add(-time.Hour)
	progress := &fakeProgress{interactions: map[string][]utils.LessonInteraction{
		progressKey("crs_1", member.PlatformMemberID): {
			{ItemID: "les_1", OccurredAt: &startedAt},
		},
	}}

	we := newTestEvaluator(db, progress, deadline.Add(2*time.Hour))
	stats := we.EvaluateOnce()

	assert.Zero(t, stats.Triggered, "a started lesson closes the reminder without firing")

	require.NoError(t, db.First(watch, watch.ID).Error)
	assert.NotNil(t, watch.SatisfiedAt)

	var enrollments int64
	db.Model(&models.AutomationEnrollment{}).Count(&enrollments)
	assert.Zero(t, enrollments)
}

func TestEvaluateChapterCompleted(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)
	campaign := createCampaign(t, db, tenant.ID)
	createSequence(t, db, tenant.ID, campaign.ID, utils.TriggerChapterCompleted, stepSpec{0, "minutes"})

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerChapterCompleted,
		models.WatchMetadata{ChapterID: "ch_1"})

	first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	last := first.Add(time.Hour)
	progress := &fakeProgress{
		interactions: map[string][]utils.LessonInteraction{
			progressKey("crs_1", member.PlatformMemberID): {
				{ItemID: "les_1", Completed: true, OccurredAt: &first},
				{ItemID: "les_2", Completed: true, OccurredAt: &last},
			},
		},
		structures: map[string]*utils.CourseStructure{
			"crs_1": {Chapters: []utils.CourseChapter{
				{ID: "ch_1", Lessons: []string{"les_1", "les_2"}},
				{ID: "ch_2", Lessons: []string{"les_3"}},
			}},
		},
	}

	we := newTestEvaluator(db, progress, last.Add(time.Hour))
	stats := we.EvaluateOnce()
	assert.Equal(t, 1, stats.Triggered)

	require.NoError(t, db.First(watch, watch.ID).Error)
	require.NotNil(t, watch.SatisfiedAt)
	assert.Equal(t, last.Format(time.RFC3339), watch.Metadata.OccurredAt,
		"fires with the latest completion in the chapter")
}

func TestEvaluateChapterNotCompleteWithStartedLesson(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerChapterCompleted,
		models.WatchMetadata{ChapterID: "ch_1"})

	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	progress := &fakeProgress{
		interactions: map[string][]utils.LessonInteraction{
			progressKey("crs_1", member.PlatformMemberID): {
				{ItemID: "les_1", Completed: true, OccurredAt: &at},
				{ItemID: "les_2", OccurredAt: &at}, // started only
			},
		},
		structures: map[string]*utils.CourseStructure{
			"crs_1": {Chapters: []utils.CourseChapter{
				{ID: "ch_1", Lessons: []string{"les_1", "les_2"}},
			}},
		},
	}

	we := newTestEvaluator(db, progress, at.Add(time.Hour))
	stats := we.EvaluateOnce()
	assert.Zero(t, stats.Triggered)

	require.NoError(t, db.First(watch, watch.ID).Error)
	assert.Nil(t, watch.SatisfiedAt)
}

func TestEvaluateCourseCompletedNeedsEveryLesson(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)
	campaign := createCampaign(t, db, tenant.ID)
	createSequence(t, db, tenant.ID, campaign.ID, utils.TriggerCourseCompleted, stepSpec{0, "minutes"})

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerCourseCompleted, models.WatchMetadata{})

	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	progress := &fakeProgress{
		interactions: map[string][]utils.LessonInteraction{
			progressKey("crs_1", member.PlatformMemberID): {
				{ItemID: "les_1", Completed: true, OccurredAt: &at},
				{ItemID: "les_2", Completed: true, OccurredAt: &at},
			},
		},
		structures: map[string]*utils.CourseStructure{
			"crs_1": {Chapters: []utils.CourseChapter{
				{ID: "ch_1", Lessons: []string{"les_1", "les_2"}},
				{ID: "ch_2", Lessons: []string{"les_3"}},
			}},
		},
	}

	we := newTestEvaluator(db, progress, at.Add(time.Hour))
	stats := we.EvaluateOnce()
	assert.Zero(t, stats.Triggered, "an untouched lesson keeps the course incomplete")

	// Once the last lesson completes, the watch fires
	progress.interactions[progressKey("crs_1", member.PlatformMemberID)] = append(
		progress.interactions[progressKey("crs_1", member.PlatformMemberID)],
		utils.LessonInteraction{ItemID: "les_3", Completed: true, OccurredAt: &at},
	)
	stats = we.EvaluateOnce()
	assert.Equal(t, 1, stats.Triggered)

	require.NoError(t, db.First(watch, watch.ID).Error)
	assert.NotNil(t, watch.SatisfiedAt)
}

func TestEvaluateCourseStartedUsesEarliestActivity(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)
	campaign := createCampaign(t, db, tenant.ID)
	createSequence(t, db, tenant.ID, campaign.ID, utils.TriggerCourseStarted, stepSpec{0, "minutes"})

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerCourseStarted, models.WatchMetadata{})

	earliest := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	later := earliest.Add(2 * time.Hour)
	progress := &fakeProgress{interactions: map[string][]utils.LessonInteraction{
		progressKey("crs_1", member.PlatformMemberID): {
			{ItemID: "les_2", OccurredAt: &later},
			{ItemID: "les_1", OccurredAt: &earliest},
		},
	}}

	we := newTestEvaluator(db, progress, later.Add(time.Hour))
	stats := we.EvaluateOnce()
	assert.Equal(t, 1, stats.Triggered)

	require.NoError(t, db.First(watch, watch.ID).Error)
	assert.Equal(t, earliest.Format(time.RFC3339), watch.Metadata.OccurredAt)
}

func TestEvaluateSkipsGroupOnFetchFailure(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)

	watch := createWatch(t, db, tenant.ID, member.ID, utils.TriggerLessonStarted,
		models.WatchMetadata{LessonID: "les_1"})

	progress := &fakeProgress{interactionsErr: errors.New("progress API returned 503")}
	we := newTestEvaluator(db, progress, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	stats := we.EvaluateOnce()

	assert.Zero(t, stats.Processed)
	assert.Equal(t, 1, stats.Skipped)

	require.NoError(t, db.First(watch, watch.ID).Error)
	assert.Nil(t, watch.SatisfiedAt, "a failed fetch leaves the watch for the next pass")
}

func TestEvaluateFetchesStructureOncePerGroup(t *testing.T) {
	db := newTestDB(t)
	tenant := createTenant(t, db)
	member := createMember(t, db, tenant.ID)

	createWatch(t, db, tenant.ID, member.ID, utils.TriggerChapterCompleted,
		models.WatchMetadata{ChapterID: "ch_1"})
	createWatch(t, db, tenant.ID, member.ID, utils.TriggerCourseCompleted, models.WatchMetadata{})

	progress := &fakeProgress{
		structures: map[string]*utils.CourseStructure{
			"crs_1": {Chapters: []utils.CourseChapter{{ID: "ch_1", Lessons: []string{"les_1"}}}},
		},
	}

	we := newTestEvaluator(db, progress, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	we.EvaluateOnce()

	assert.Equal(t, 1, progress.structureCalls, "the structure cache absorbs repeat reads")
}

package worker

import (
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"membermail/config"
	"membermail/models"
	"membermail/utils"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// One shared in-memory database per test, isolated by name
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.MigrateDB(db))
	return db
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func createTenant(t *testing.T, db *gorm.DB) *models.Tenant {
	t.Helper()
	tenant := models.Tenant{
		PlatformGroupID: "grp_1",
		Name:            "Acme Community",
		FromName:        "Acme",
		FromEmail:       "hello@acme.test",
		Timezone:        "UTC",
	}
	require.NoError(t, db.Create(&tenant).Error)
	return &tenant
}

func createMember(t *testing.T, db *gorm.DB, tenantID uint) *models.Member {
	t.Helper()
	member := models.Member{
		TenantID:         tenantID,
		PlatformMemberID: "mem_1",
		Email:            "jordan@example.com",
		Name:             "Jordan",
	}
	require.NoError(t, db.Create(&member).Error)
	return &member
}

func createCampaign(t *testing.T, db *gorm.DB, tenantID uint) *models.Campaign {
	t.Helper()
	campaign := models.Campaign{
		TenantID: tenantID,
		Name:     "Welcome",
		Subject:  "Welcome aboard",
		BodyHTML: "<p>Hi there</p>",
		Status:   "ready",
	}
	require.NoError(t, db.Create(&campaign).Error)
	return &campaign
}

type stepSpec struct {
	delayValue int
	delayUnit  string
}

func createSequence(t *testing.T, db *gorm.DB, tenantID, campaignID uint, trigger utils.TriggerKind, steps ...stepSpec) *models.AutomationSequence {
	t.Helper()
	seq := models.AutomationSequence{
		TenantID:     tenantID,
		Name:         "Test sequence",
		Status:       models.SequenceStatusActive,
		TriggerEvent: string(trigger),
		Timezone:     "UTC",
		IsEnabled:    true,
	}
	require.NoError(t, db.Create(&seq).Error)

	for i, s := range steps {
		step := models.AutomationStep{
			SequenceID: seq.ID,
			CampaignID: campaignID,
			Position:   i + 1,
			DelayValue: s.delayValue,
			DelayUnit:  s.delayUnit,
		}
		require.NoError(t, db.Create(&step).Error)
	}
	return &seq
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []utils.OutboundMail
	err  error
}

func (f *fakeMailer) Send(mail utils.OutboundMail) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, mail)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeMailer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeProgress struct {
	interactions    map[string][]utils.LessonInteraction
	structures      map[string]*utils.CourseStructure
	interactionsErr error
	structureErr    error
	structureCalls  int
}

func progressKey(courseID, memberID string) string {
	return courseID + "|" + memberID
}

func (f *fakeProgress) GetInteractions(courseID, memberID string) ([]utils.LessonInteraction, error) {
	if f.interactionsErr != nil {
		return nil, f.interactionsErr
	}
	return f.interactions[progressKey(courseID, memberID)], nil
}

func (f *fakeProgress) GetStructure(courseID string) (*utils.CourseStructure, error) {
	f.structureCalls++
	if f.structureErr != nil {
		return nil, f.structureErr
	}
	s, ok := f.structures[courseID]
	if !ok {
		return nil, fmt.Errorf("no structure for course %s", courseID)
	}
	return s, nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"membermail/models"
	"membermail/utils"

	"github.com/badoux/checkmail"
	"gorm.io/gorm"
)

const (
	// JobMaxAttempts bounds how many times one job may be claimed
	// before it is failed terminally.
	JobMaxAttempts = 5

	jobBatchSize     = 50
	jobTickInterval  = 30 * time.Second
	retryDelay       = 5 * time.Minute
	senderSetupDelay = 10 * time.Minute
)

// JobWorker drains due automation jobs. Multiple instances may run
// against the same queue; correctness rests entirely on the claim
// update's atomicity.
type JobWorker struct {
	DB     *gorm.DB
	Mailer utils.Mailer
	Logger *log.Logger
	Now    func() time.Time
}

func NewJobWorker(db *gorm.DB, mailer utils.Mailer, logger *log.Logger) *JobWorker {
	return &JobWorker{
		DB:     db,
		Mailer: mailer,
		Logger: logger,
		Now:    time.Now,
	}
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (jw *JobWorker) Start(ctx context.Context) {
	jw.Logger.Println("Job worker started")

	ticker := time.NewTicker(jobTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			jw.Logger.Println("Job worker shutting down...")
			return
		case <-ticker.C:
			jw.DrainOnce()
		}
	}
}

type jobOutcome int

const (
	jobCompleted jobOutcome = iota
	jobFailed
	jobSkipped
)

// DrainOnce claims and runs one batch of due jobs, oldest first.
func (jw *JobWorker) DrainOnce() DrainStats {
	var stats DrainStats
	now := jw.Now()

	var jobs []models.AutomationJob
	if err := jw.DB.Where("status = ? AND scheduled_at <= ?", models.JobStatusPending, now).
		Order("scheduled_at asc").
		Limit(jobBatchSize).
		Find(&jobs).Error; err != nil {
		jw.Logger.Printf("Error fetching due jobs: %v", err)
		return stats
	}

	for _, job := range jobs {
		stats.Processed++
		switch jw.processJob(job) {
		case jobCompleted:
			stats.Completed++
		case jobFailed:
			stats.Failed++
		case jobSkipped:
			stats.Skipped++
		}
	}

	if stats.Processed > 0 {
		jw.Logger.Printf("Drained %d jobs (%d completed, %d failed, %d skipped)",
			stats.Processed, stats.Completed, stats.Failed, stats.Skipped)
	}
	return stats
}

func (jw *JobWorker) processJob(job models.AutomationJob) jobOutcome {
	// Claim: only one worker wins this conditional transition. The
	// attempt counter moves with the claim, so quiet-hour deferrals
	// consume retry budget as well.
	claim := jw.DB.Model(&models.AutomationJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":   models.JobStatusProcessing,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if claim.Error != nil {
		jw.Logger.Printf("Error claiming job %d: %v", job.ID, claim.Error)
		return jobSkipped
	}
	if claim.RowsAffected == 0 {
		// Another worker won the race; a normal skip, not an error
		return jobSkipped
	}
	job.Attempts++

	outcome, err := jw.runClaimed(&job)
	if err != nil {
		return jw.failOrRetry(&job, err)
	}
	return outcome
}

func (jw *JobWorker) runClaimed(job *models.AutomationJob) (jobOutcome, error) {
	var seq models.AutomationSequence
	if err := jw.DB.First(&seq, job.SequenceID).Error; err != nil {
		return jobFailed, fmt.Errorf("loading sequence %d: %w", job.SequenceID, err)
	}
	var tenant models.Tenant
	if err := jw.DB.First(&tenant, seq.TenantID).Error; err != nil {
		return jobFailed, fmt.Errorf("loading tenant %d: %w", seq.TenantID, err)
	}

	// Paused at the tenant or sequence level means cancelled, no retry
	if tenant.IsPaused || seq.Status != models.SequenceStatusActive || !seq.IsEnabled {
		jw.Logger.Printf("Job %d cancelled: sequence %d paused or inactive", job.ID, seq.ID)
		return jobSkipped, jw.transition(job, map[string]interface{}{
			"status": models.JobStatusCancelled,
		})
	}

	// Quiet hours: sequence-level window overrides tenant defaults
	if start, end, tz, ok := effectiveQuietWindow(&seq, &tenant); ok {
		next, deferred, err := utils.NextAllowedTime(job.ScheduledAt, tz, start, end)
		if err != nil {
			return jobFailed, err
		}
		if deferred {
			jw.Logger.Printf("Job %d deferred to %s by quiet hours", job.ID, next.Format(time.RFC3339))
			return jobSkipped, jw.transition(job, map[string]interface{}{
				"status":       models.JobStatusPending,
				"scheduled_at": next,
			})
		}
	}

	// Recipient: missing or malformed is terminal
	var member models.Member
	if err := jw.DB.First(&member, job.MemberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jobFailed, jw.markFailed(job, "recipient not found")
		}
		return jobFailed, fmt.Errorf("loading member %d: %w", job.MemberID, err)
	}
	if member.IsUnsubscribed {
		jw.Logger.Printf("Job %d cancelled: member %d unsubscribed", job.ID, member.ID)
		return jobSkipped, jw.transition(job, map[string]interface{}{
			"status": models.JobStatusCancelled,
		})
	}
	if err := checkmail.ValidateFormat(member.Email); err != nil {
		return jobFailed, jw.markFailed(job, fmt.Sprintf("invalid recipient address: %v", err))
	}

	// Sender identity not configured yet is soft: park the job and
	// let a later tick pick it up once the tenant finishes setup
	if tenant.FromEmail == "" || tenant.FromName == "" {
		jw.Logger.Printf("Job %d waiting on sender identity for tenant %d", job.ID, tenant.ID)
		return jobSkipped, jw.transition(job, map[string]interface{}{
			"status":       models.JobStatusPending,
			"scheduled_at": jw.Now().Add(senderSetupDelay),
		})
	}

	var campaign models.Campaign
	if err := jw.DB.First(&campaign, job.CampaignID).Error; err != nil {
		return jobFailed, fmt.Errorf("loading campaign %d: %w", job.CampaignID, err)
	}

	messageID, err := jw.Mailer.Send(utils.OutboundMail{
		From:     tenant.FromEmail,
		FromName: tenant.FromName,
		ReplyTo:  tenant.ReplyEmail,
		To:       member.Email,
		Subject:  campaign.Subject,
		HTML:     campaign.BodyHTML,
	})
	if err != nil {
		return jobFailed, fmt.Errorf("sending campaign %d to member %d: %w", campaign.ID, member.ID, err)
	}

	if err := jw.DB.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error; err != nil {
		jw.Logger.Printf("Failed to bump sent count for campaign %d: %v", campaign.ID, err)
	}
	utils.LogEvent("automation_email_sent", map[string]interface{}{
		"job_id":      job.ID,
		"sequence_id": seq.ID,
		"member_id":   member.ID,
		"campaign_id": campaign.ID,
		"message_id":  messageID,
	})

	if err := jw.advanceEnrollment(job); err != nil {
		return jobFailed, err
	}

	now := jw.Now()
	return jobCompleted, jw.transition(job, map[string]interface{}{
		"status":     models.JobStatusCompleted,
		"message_id": messageID,
		"sent_at":    now,
		"last_error": "",
	})
}

// advanceEnrollment moves the enrollment to the next step and schedules
// its job, or completes the enrollment when no next step exists.
func (jw *JobWorker) advanceEnrollment(job *models.AutomationJob) error {
	var enrollment models.AutomationEnrollment
	if err := jw.DB.First(&enrollment, job.EnrollmentID).Error; err != nil {
		return fmt.Errorf("loading enrollment %d: %w", job.EnrollmentID, err)
	}
	var step models.AutomationStep
	if err := jw.DB.First(&step, job.StepID).Error; err != nil {
		return fmt.Errorf("loading step %d: %w", job.StepID, err)
	}

	var next models.AutomationStep
	err := jw.DB.Where("sequence_id = ? AND position = ?", job.SequenceID, step.Position+1).
		First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := jw.Now()
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.CompletedAt = &now
		return jw.DB.Save(&enrollment).Error
	}
	if err != nil {
		return fmt.Errorf("loading next step: %w", err)
	}

	enrollment.CurrentStep = next.Position
	if err := jw.DB.Save(&enrollment).Error; err != nil {
		return fmt.Errorf("advancing enrollment %d: %w", enrollment.ID, err)
	}

	nextJob := models.AutomationJob{
		SequenceID:   job.SequenceID,
		StepID:       next.ID,
		CampaignID:   next.CampaignID,
		MemberID:     job.MemberID,
		EnrollmentID: enrollment.ID,
		ScheduledAt:  jw.Now().Add(next.Delay()),
		Status:       models.JobStatusPending,
	}
	if err := jw.DB.Create(&nextJob).Error; err != nil {
		return fmt.Errorf("scheduling next job: %w", err)
	}
	return nil
}

// failOrRetry reschedules a failed job while attempts remain, and
// fails it terminally otherwise.
func (jw *JobWorker) failOrRetry(job *models.AutomationJob, cause error) jobOutcome {
	if job.Attempts < JobMaxAttempts {
		jw.Logger.Printf("Job %d attempt %d failed, retrying: %v", job.ID, job.Attempts, cause)
		if err := jw.transition(job, map[string]interface{}{
			"status":       models.JobStatusPending,
			"scheduled_at": jw.Now().Add(retryDelay),
			"last_error":   cause.Error(),
		}); err != nil {
			jw.Logger.Printf("Error rescheduling job %d: %v", job.ID, err)
		}
		return jobSkipped
	}

	utils.LogError("automation_job_failed", cause, map[string]interface{}{
		"job_id":   job.ID,
		"attempts": job.Attempts,
	})
	if err := jw.transition(job, map[string]interface{}{
		"status":     models.JobStatusFailed,
		"last_error": cause.Error(),
	}); err != nil {
		jw.Logger.Printf("Error failing job %d: %v", job.ID, err)
	}
	return jobFailed
}

func (jw *JobWorker) markFailed(job *models.AutomationJob, reason string) error {
	utils.LogError("automation_job_failed", errors.New(reason), map[string]interface{}{
		"job_id": job.ID,
	})
	return jw.transition(job, map[string]interface{}{
		"status":     models.JobStatusFailed,
		"last_error": reason,
	})
}

func (jw *JobWorker) transition(job *models.AutomationJob, updates map[string]interface{}) error {
	return jw.DB.Model(&models.AutomationJob{}).Where("id = ?", job.ID).Updates(updates).Error
}

// effectiveQuietWindow resolves the quiet-hours window for a job. The
// sequence overrides the tenant; with neither configured there is no
// window to enforce.
func effectiveQuietWindow(seq *models.AutomationSequence, tenant *models.Tenant) (start, end int, tz string, ok bool) {
	tz = seq.Timezone
	if tz == "" {
		tz = tenant.Timezone
	}
	if tz == "" {
		tz = "UTC"
	}

	if seq.QuietStartHour != nil && seq.QuietEndHour != nil {
		return *seq.QuietStartHour, *seq.QuietEndHour, tz, true
	}
	if tenant.QuietStartHour != nil && tenant.QuietEndHour != nil {
		return *tenant.QuietStartHour, *tenant.QuietEndHour, tz, true
	}
	return 0, 0, tz, false
}

package service

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"mailpacer/internal/logger"
	"mailpacer/internal/metrics"
	"mailpacer/internal/models"
	"mailpacer/internal/repository"
)

// Submission defaults
const (
	DefaultDelayBetweenEmails = 60
	DefaultHourlyLimit        = 100
)

// Enqueuer accepts units into the delayed dispatch queue
type Enqueuer interface {
	Enqueue(ctx context.Context, correlationID string, payload models.SendPayload, delay time.Duration) (bool, error)
}

// CreateCampaignRequest is a campaign submission
type CreateCampaignRequest struct {
	Subject                   string     `json:"subject" validate:"required"`
	Body                      string     `json:"body" validate:"required"`
	RecipientEmails           []string   `json:"recipientEmails" validate:"required,min=1,dive,required,email"`
	StartTime                 *time.Time `json:"startTime"`
	DelayBetweenEmailsSeconds *int       `json:"delayBetweenEmailsSeconds"`
	HourlyLimit               *int       `json:"hourlyLimit"`
}

// CampaignResult is returned after a campaign has been expanded
type CampaignResult struct {
	CampaignID int64 `json:"campaignId"`
	JobCount   int   `json:"jobCount"`
}

// CampaignService is the campaign expander: it turns a campaign into one scheduled send
// per recipient and hands each to the dispatch queue
type CampaignService struct {
	campaignRepo repository.CampaignRepository
	jobRepo      repository.EmailJobRepository
	queue        Enqueuer
	validate     *validator.Validate
	senderID     string
	log          *logrus.Entry
	now          func() time.Time
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaignRepo repository.CampaignRepository,
	jobRepo repository.EmailJobRepository,
	queue Enqueuer,
	senderID string,
	log *logrus.Entry,
) *CampaignService {
	return &CampaignService{
		campaignRepo: campaignRepo,
		jobRepo:      jobRepo,
		queue:        queue,
		validate:     newValidator(),
		senderID:     senderID,
		log:          log,
		now:          time.Now,
	}
}

// WithClock replaces the time source, for tests
func (s *CampaignService) WithClock(now func() time.Time) *CampaignService {
	s.now = now
	return s
}

// newValidator reports fields by their json names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateCampaign validates a submission, applies defaults and expands it.
// Invalid input is rejected before anything is persisted.
func (s *CampaignService) CreateCampaign(ctx context.Context, userID string, req *CreateCampaignRequest) (*CampaignResult, error) {
	if req == nil {
		return nil, &ValidationError{Message: "request body is required"}
	}
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Message: "user id is required"}
	}

	req.Subject = strings.TrimSpace(req.Subject)
	recipients := make([]string, 0, len(req.RecipientEmails))
	for _, r := range req.RecipientEmails {
		recipients = append(recipients, strings.TrimSpace(r))
	}
	req.RecipientEmails = recipients

	// whitespace-only body counts as missing; otherwise the body is kept verbatim
	if strings.TrimSpace(req.Body) == "" {
		req.Body = ""
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, newValidationError(err)
	}

	startTime := s.now()
	if req.StartTime != nil {
		startTime = *req.StartTime
	}

	delay := DefaultDelayBetweenEmails
	if req.DelayBetweenEmailsSeconds != nil {
		delay = *req.DelayBetweenEmailsSeconds
	}
	hourly := DefaultHourlyLimit
	if req.HourlyLimit != nil {
		hourly = *req.HourlyLimit
	}

	return s.Expand(ctx, userID, req.Subject, req.Body, req.RecipientEmails, startTime, delay, hourly)
}

// Expand persists the campaign, one SCHEDULED row per recipient at
// startTime + i*delaySeconds, and enqueues each row with its job id as correlation id.
// A failure after the campaign row exists leaves the remaining rows unbound for the reconciler.
func (s *CampaignService) Expand(
	ctx context.Context,
	userID, subject, body string,
	recipients []string,
	startTime time.Time,
	delaySeconds, hourlyLimit int,
) (*CampaignResult, error) {
	if len(recipients) == 0 {
		return nil, &ValidationError{Message: "at least one recipient is required"}
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	if hourlyLimit < 1 {
		hourlyLimit = 1
	}

	campaign := &models.Campaign{
		UserID:             userID,
		Subject:            subject,
		Body:               body,
		StartTime:          startTime.UTC(),
		DelayBetweenEmails: delaySeconds,
		HourlyLimit:        hourlyLimit,
	}
	if err := s.campaignRepo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	jobs := make([]*models.EmailJob, 0, len(recipients))
	for i, recipient := range recipients {
		job := &models.EmailJob{
			CampaignID:     campaign.ID,
			RecipientEmail: recipient,
			ScheduledAt:    campaign.ScheduleFor(i),
			Status:         models.JobStatusScheduled,
			CorrelationID:  models.PlaceholderCorrelationID(campaign.ID, i),
		}
		if err := s.jobRepo.Create(ctx, job); err != nil {
			logger.LogError(s.log, "Expand", "create email job", logrus.Fields{"campaign_id": campaign.ID, "index": i}, err)
			return nil, fmt.Errorf("failed to create email job %d of campaign %d: %w", i, campaign.ID, err)
		}
		jobs = append(jobs, job)
	}

	for _, job := range jobs {
		if err := s.dispatch(ctx, campaign, job); err != nil {
			logger.LogError(s.log, "Expand", "dispatch email job", logrus.Fields{"campaign_id": campaign.ID, "job_id": job.ID}, err)
			return nil, err
		}
	}

	metrics.CampaignsCreated.Inc()
	metrics.JobsScheduled.Add(float64(len(jobs)))

	s.log.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"user_id":     userID,
		"jobs":        len(jobs),
	}).Info("Campaign expanded")

	return &CampaignResult{CampaignID: campaign.ID, JobCount: len(jobs)}, nil
}

// dispatch enqueues a job and binds its real correlation id
func (s *CampaignService) dispatch(ctx context.Context, campaign *models.Campaign, job *models.EmailJob) error {
	correlationID := models.JobCorrelationID(job.ID)
	delay := job.ScheduledAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	if _, err := s.queue.Enqueue(ctx, correlationID, PayloadFor(campaign, job, s.senderID), delay); err != nil {
		return fmt.Errorf("failed to enqueue email job %d: %w", job.ID, err)
	}

	if err := s.jobRepo.BindCorrelationID(ctx, job.ID, correlationID); err != nil {
		return fmt.Errorf("failed to bind correlation id for email job %d: %w", job.ID, err)
	}
	job.CorrelationID = correlationID

	return nil
}

// PayloadFor builds the queue payload for a job of campaign
func PayloadFor(campaign *models.Campaign, job *models.EmailJob, senderID string) models.SendPayload {
	return models.SendPayload{
		EmailJobID:     job.ID,
		CampaignID:     campaign.ID,
		RecipientEmail: job.RecipientEmail,
		Subject:        campaign.Subject,
		Body:           campaign.Body,
		SenderID:       senderID,
		HourlyLimit:    campaign.HourlyLimit,
	}
}

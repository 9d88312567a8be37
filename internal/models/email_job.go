package models

import (
	"fmt"
	"strconv"
	"time"
)

// JobStatus represents valid scheduled-send statuses
type JobStatus string

const (
	JobStatusScheduled JobStatus = "SCHEDULED"
	JobStatusSent      JobStatus = "SENT"
	JobStatusFailed    JobStatus = "FAILED"
)

// placeholderPrefix marks a correlation id that was never bound to a queue unit
const placeholderPrefix = "pending-"

// EmailJob is one recipient's scheduled send
type EmailJob struct {
	ID             int64      `json:"id" db:"id"`
	CampaignID     int64      `json:"campaign_id" db:"campaign_id"`
	RecipientEmail string     `json:"recipient_email" db:"recipient_email"`
	ScheduledAt    time.Time  `json:"scheduled_at" db:"scheduled_at"`
	SentAt         *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	Status         JobStatus  `json:"status" db:"status"`
	CorrelationID  string     `json:"correlation_id" db:"correlation_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the job already reached SENT or FAILED
func (j *EmailJob) IsTerminal() bool {
	return j.Status == JobStatusSent || j.Status == JobStatusFailed
}

// IsBound reports whether the job carries its real queue correlation id
func (j *EmailJob) IsBound() bool {
	return len(j.CorrelationID) < len(placeholderPrefix) || j.CorrelationID[:len(placeholderPrefix)] != placeholderPrefix
}

// PlaceholderCorrelationID is stored on a fresh row until the queue accepts it
func PlaceholderCorrelationID(campaignID int64, index int) string {
	return fmt.Sprintf("%s%d-%d", placeholderPrefix, campaignID, index)
}

// PlaceholderPattern matches every unbound correlation id in SQL LIKE syntax
func PlaceholderPattern() string {
	return placeholderPrefix + "%"
}

// JobCorrelationID is the queue identity of a job's first dispatch: the job id itself
func JobCorrelationID(jobID int64) string {
	return strconv.FormatInt(jobID, 10)
}

// DeferredCorrelationID identifies a re-enqueue of jobID for the window starting at windowStart
func DeferredCorrelationID(jobID int64, windowStart time.Time) string {
	return fmt.Sprintf("%d-delay-%d", jobID, windowStart.UnixMilli())
}

// EmailListItem is a job row joined with its campaign subject
type EmailListItem struct {
	ID             int64            `json:"id"`
	RecipientEmail string           `json:"recipientEmail"`
	ScheduledAt    time.Time        `json:"scheduledAt"`
	SentAt         *time.Time       `json:"sentAt"`
	Status         JobStatus        `json:"status"`
	Campaign       CampaignSubjects `json:"campaign"`
}

// CampaignSubjects is the campaign projection exposed by listings
type CampaignSubjects struct {
	Subject string `json:"subject"`
}

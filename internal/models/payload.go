package models

import "time"

// SendPayload is the unit of work carried by the dispatch queue.
// The Job Store remains the source of truth for status.
type SendPayload struct {
	EmailJobID     int64  `json:"email_job_id"`
	CampaignID     int64  `json:"campaign_id"`
	RecipientEmail string `json:"recipient_email"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	SenderID       string `json:"sender_id"`
	HourlyLimit    int    `json:"hourly_limit"`
}

// DeliveryEventType names a job transition published to the event bus
type DeliveryEventType string

const (
	EventSent     DeliveryEventType = "email.sent"
	EventFailed   DeliveryEventType = "email.failed"
	EventDeferred DeliveryEventType = "email.deferred"
)

// DeliveryEvent describes a job transition for downstream consumers
type DeliveryEvent struct {
	ID             string            `json:"id"`
	Type           DeliveryEventType `json:"type"`
	EmailJobID     int64             `json:"email_job_id"`
	CampaignID     int64             `json:"campaign_id"`
	RecipientEmail string            `json:"recipient_email"`
	CorrelationID  string            `json:"correlation_id"`
	Error          string            `json:"error,omitempty"`
	DeferredUntil  *time.Time        `json:"deferred_until,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

package models

import (
	"time"
)

// Campaign is a single bulk-send request. Rows are written once and never updated.
type Campaign struct {
	ID                 int64     `json:"id" db:"id"`
	UserID             string    `json:"user_id" db:"user_id"`
	Subject            string    `json:"subject" db:"subject"`
	Body               string    `json:"body" db:"body"`
	StartTime          time.Time `json:"start_time" db:"start_time"`
	DelayBetweenEmails int       `json:"delay_between_emails" db:"delay_between_emails"`
	HourlyLimit        int       `json:"hourly_limit" db:"hourly_limit"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// ScheduleFor returns the send time of the recipient at position index.
// Consecutive recipients are DelayBetweenEmails seconds apart.
func (c *Campaign) ScheduleFor(index int) time.Time {
	return c.StartTime.Add(time.Duration(index) * time.Duration(c.DelayBetweenEmails) * time.Second)
}

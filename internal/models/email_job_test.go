package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCampaign_ScheduleFor(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := &Campaign{StartTime: start, DelayBetweenEmails: 60}

	assert.Equal(t, start, c.ScheduleFor(0))
	assert.Equal(t, start.Add(time.Minute), c.ScheduleFor(1))
	assert.Equal(t, start.Add(10*time.Minute), c.ScheduleFor(10))

	c.DelayBetweenEmails = 0
	assert.Equal(t, start, c.ScheduleFor(5))
}

func TestEmailJob_IsTerminal(t *testing.T) {
	assert.False(t, (&EmailJob{Status: JobStatusScheduled}).IsTerminal())
	assert.True(t, (&EmailJob{Status: JobStatusSent}).IsTerminal())
	assert.True(t, (&EmailJob{Status: JobStatusFailed}).IsTerminal())
}

func TestCorrelationIDs(t *testing.T) {
	placeholder := PlaceholderCorrelationID(7, 3)
	assert.Equal(t, "pending-7-3", placeholder)
	assert.False(t, (&EmailJob{CorrelationID: placeholder}).IsBound())
	assert.True(t, (&EmailJob{CorrelationID: JobCorrelationID(42)}).IsBound())
	assert.Equal(t, "42", JobCorrelationID(42))

	window := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "42-delay-1772359200000", DeferredCorrelationID(42, window))
}

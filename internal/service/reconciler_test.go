package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpacer/internal/logger"
	"mailpacer/internal/models"
)

func newTestLocker(t *testing.T) *redislock.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redislock.New(client)
}

func TestReconciler_SweepRecoversUnboundJobs(t *testing.T) {
	campaigns := NewMockCampaignRepository()
	jobs := NewMockEmailJobRepository()
	q := NewMockQueue()
	ctx := context.Background()

	campaign := &models.Campaign{UserID: "u", Subject: "s", Body: "b", StartTime: testNow, DelayBetweenEmails: 60, HourlyLimit: 20}
	require.NoError(t, campaigns.Create(ctx, campaign))

	bound := &models.EmailJob{CampaignID: campaign.ID, RecipientEmail: "a@example.com", ScheduledAt: testNow, Status: models.JobStatusScheduled, CorrelationID: "1"}
	unbound := &models.EmailJob{CampaignID: campaign.ID, RecipientEmail: "b@example.com", ScheduledAt: testNow.Add(time.Hour), Status: models.JobStatusScheduled, CorrelationID: models.PlaceholderCorrelationID(campaign.ID, 1)}
	require.NoError(t, jobs.Create(ctx, bound))
	require.NoError(t, jobs.Create(ctx, unbound))

	// The mock stamps CreatedAt with wall time, so the sweep clock sits well after it
	now := time.Now().Add(time.Hour)
	r := NewReconciler(campaigns, jobs, q, newTestLocker(t), ReconcileOptions{Grace: time.Minute, SenderID: "global"}, logger.Discard()).
		WithClock(func() time.Time { return now })

	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	units := q.Units()
	require.Len(t, units, 1)
	assert.Equal(t, models.JobCorrelationID(unbound.ID), units[0].CorrelationID)
	assert.Equal(t, unbound.ID, units[0].Payload.EmailJobID)
	assert.Equal(t, 20, units[0].Payload.HourlyLimit)
	boundJob := jobs.Job(unbound.ID)
	assert.True(t, boundJob.IsBound())

	// A second sweep finds nothing left
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciler_GraceProtectsFreshRows(t *testing.T) {
	campaigns := NewMockCampaignRepository()
	jobs := NewMockEmailJobRepository()
	q := NewMockQueue()
	ctx := context.Background()

	campaign := &models.Campaign{UserID: "u", Subject: "s", Body: "b", StartTime: testNow, HourlyLimit: 1}
	require.NoError(t, campaigns.Create(ctx, campaign))
	require.NoError(t, jobs.Create(ctx, &models.EmailJob{
		CampaignID: campaign.ID, RecipientEmail: "a@example.com", ScheduledAt: testNow,
		Status: models.JobStatusScheduled, CorrelationID: models.PlaceholderCorrelationID(campaign.ID, 0),
	}))

	r := NewReconciler(campaigns, jobs, q, newTestLocker(t), ReconcileOptions{Grace: time.Hour}, logger.Discard())

	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, q.Units())
}

func TestReconciler_SkipsWhenLockHeld(t *testing.T) {
	locker := newTestLocker(t)
	ctx := context.Background()

	held, err := locker.Obtain(ctx, reconcileLockKey, time.Minute, nil)
	require.NoError(t, err)
	defer held.Release(ctx)

	jobs := NewMockEmailJobRepository()
	r := NewReconciler(NewMockCampaignRepository(), jobs, NewMockQueue(), locker, ReconcileOptions{}, logger.Discard())

	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, jobs.Calls["ListUnbound"])
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"mailpacer/internal/metrics"
	"mailpacer/internal/models"
	"mailpacer/internal/repository"
)

const reconcileLockKey = "mailpacer:lock:reconcile"

// Locker hands out expiring distributed locks
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// ReconcileOptions tunes the sweep
type ReconcileOptions struct {
	// Grace keeps the sweep away from rows an expander is still dispatching
	Grace     time.Duration
	BatchSize int
	LockTTL   time.Duration
	SenderID  string
}

// Reconciler re-enqueues SCHEDULED jobs that never got bound to a queue unit,
// which happens when an expansion fails partway
type Reconciler struct {
	campaignRepo repository.CampaignRepository
	jobRepo      repository.EmailJobRepository
	queue        Enqueuer
	locker       Locker
	opts         ReconcileOptions
	log          *logrus.Entry
	now          func() time.Time
}

// NewReconciler creates a reconciler
func NewReconciler(
	campaignRepo repository.CampaignRepository,
	jobRepo repository.EmailJobRepository,
	queue Enqueuer,
	locker Locker,
	opts ReconcileOptions,
	log *logrus.Entry,
) *Reconciler {
	if opts.Grace <= 0 {
		opts.Grace = 2 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	if opts.SenderID == "" {
		opts.SenderID = "global"
	}

	return &Reconciler{
		campaignRepo: campaignRepo,
		jobRepo:      jobRepo,
		queue:        queue,
		locker:       locker,
		opts:         opts,
		log:          log,
		now:          time.Now,
	}
}

// WithClock replaces the time source, for tests
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Sweep re-enqueues one batch of unbound jobs and returns how many were recovered.
// If another process holds the sweep lock it returns 0 without doing anything.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	lock, err := r.locker.Obtain(ctx, reconcileLockKey, r.opts.LockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		r.log.Debug("Reconcile sweep already running elsewhere")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to obtain reconcile lock: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.WithError(err).Warn("Failed to release reconcile lock")
		}
	}()

	now := r.now()
	jobs, err := r.jobRepo.ListUnbound(ctx, now.Add(-r.opts.Grace), r.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unbound email jobs: %w", err)
	}

	campaigns := make(map[int64]*models.Campaign)
	recovered := 0
	for _, job := range jobs {
		campaign, ok := campaigns[job.CampaignID]
		if !ok {
			campaign, err = r.campaignRepo.GetByID(ctx, job.CampaignID)
			if err != nil {
				return recovered, fmt.Errorf("failed to load campaign %d: %w", job.CampaignID, err)
			}
			campaigns[job.CampaignID] = campaign
		}

		correlationID := models.JobCorrelationID(job.ID)
		delay := job.ScheduledAt.Sub(now)
		if delay < 0 {
			delay = 0
		}

		if _, err := r.queue.Enqueue(ctx, correlationID, PayloadFor(campaign, job, r.opts.SenderID), delay); err != nil {
			return recovered, fmt.Errorf("failed to enqueue email job %d: %w", job.ID, err)
		}
		if err := r.jobRepo.BindCorrelationID(ctx, job.ID, correlationID); err != nil {
			return recovered, fmt.Errorf("failed to bind correlation id for email job %d: %w", job.ID, err)
		}
		recovered++
	}

	if recovered > 0 {
		metrics.Reconciled.Add(float64(recovered))
		r.log.WithField("jobs", recovered).Info("Reconciled unbound email jobs")
	}

	return recovered, nil
}

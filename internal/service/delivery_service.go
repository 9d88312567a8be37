package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"mailpacer/internal/events"
	"mailpacer/internal/logger"
	"mailpacer/internal/mailer"
	"mailpacer/internal/metrics"
	"mailpacer/internal/models"
	"mailpacer/internal/ratelimit"
	"mailpacer/internal/repository"
)

// Outcome is what happened to one dispatched unit
type Outcome string

const (
	// OutcomeSent: the email went out and the job is SENT
	OutcomeSent Outcome = "sent"
	// OutcomeFailed: the transport rejected the email and the job is FAILED
	OutcomeFailed Outcome = "failed"
	// OutcomeDeferred: the job stays SCHEDULED and a later unit was enqueued
	OutcomeDeferred Outcome = "deferred"
	// OutcomeSkipped: the job was missing or already terminal
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRetry: an infrastructure error; the unit should be redelivered
	OutcomeRetry Outcome = "retry"
)

// SlotReserver is the hourly send budget shared across workers
type SlotReserver interface {
	ReserveSlot(ctx context.Context, sender string, maxPerHour int) (ratelimit.Reservation, error)
	NextWindowStart() time.Time
}

// Pacer spaces send initiation across the whole pool
type Pacer interface {
	Wait(ctx context.Context) error
}

// DeliveryOptions tunes the delivery processor
type DeliveryOptions struct {
	From             string
	DefaultSender    string
	MaxEmailsPerHour int
	// BreakerFailures consecutive transport failures open the breaker
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open; deferred jobs wait this long
	BreakerTimeout time.Duration
}

// DeliveryService runs the per-unit state machine: guard, rate check, send, record
type DeliveryService struct {
	jobRepo   repository.EmailJobRepository
	limiter   SlotReserver
	queue     Enqueuer
	mailer    mailer.Mailer
	pacer     Pacer
	publisher events.Publisher
	breaker   *gobreaker.CircuitBreaker
	opts      DeliveryOptions
	log       *logrus.Entry
	now       func() time.Time
}

// NewDeliveryService creates a delivery processor
func NewDeliveryService(
	jobRepo repository.EmailJobRepository,
	limiter SlotReserver,
	queue Enqueuer,
	m mailer.Mailer,
	pacer Pacer,
	publisher events.Publisher,
	opts DeliveryOptions,
	log *logrus.Entry,
) *DeliveryService {
	if opts.DefaultSender == "" {
		opts.DefaultSender = "global"
	}
	if opts.MaxEmailsPerHour < 1 {
		opts.MaxEmailsPerHour = 1
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if publisher == nil {
		publisher = events.Discard{}
	}

	s := &DeliveryService{
		jobRepo:   jobRepo,
		limiter:   limiter,
		queue:     queue,
		mailer:    m,
		pacer:     pacer,
		publisher: publisher,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mail-transport",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Mail transport breaker changed state")
		},
	})

	return s
}

// WithClock replaces the time source, for tests
func (s *DeliveryService) WithClock(now func() time.Time) *DeliveryService {
	s.now = now
	return s
}

// BreakerState reports the transport breaker state
func (s *DeliveryService) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// EffectiveHourlyLimit is the campaign's limit capped by the process-wide maximum
func (s *DeliveryService) EffectiveHourlyLimit(campaignLimit int) int {
	if campaignLimit < 1 || campaignLimit > s.opts.MaxEmailsPerHour {
		return s.opts.MaxEmailsPerHour
	}
	return campaignLimit
}

// Process handles one dequeued unit. A non-nil error with OutcomeFailed must be
// recorded as a failed unit; with OutcomeRetry the unit should be left for redelivery.
func (s *DeliveryService) Process(ctx context.Context, correlationID string, payload models.SendPayload) (Outcome, error) {
	entry := s.log.WithFields(logrus.Fields{
		"job_id":         payload.EmailJobID,
		"campaign_id":    payload.CampaignID,
		"correlation_id": correlationID,
	})

	// Guard
	job, err := s.jobRepo.FindByID(ctx, payload.EmailJobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		entry.Warn("Email job not found, dropping unit")
		return s.done(OutcomeSkipped, nil)
	}
	if err != nil {
		return s.done(OutcomeRetry, fmt.Errorf("failed to load email job %d: %w", payload.EmailJobID, err))
	}
	if job.Status != models.JobStatusScheduled {
		entry.WithField("status", job.Status).Debug("Email job already handled, dropping unit")
		return s.done(OutcomeSkipped, nil)
	}

	if s.breaker.State() == gobreaker.StateOpen {
		return s.deferUntil(ctx, entry, payload, s.now().Add(s.opts.BreakerTimeout), "transport breaker open")
	}

	// Rate check
	sender := payload.SenderID
	if sender == "" {
		sender = s.opts.DefaultSender
	}
	res, err := s.limiter.ReserveSlot(ctx, sender, s.EffectiveHourlyLimit(payload.HourlyLimit))
	if err != nil {
		return s.done(OutcomeRetry, err)
	}
	if !res.Allowed {
		return s.deferUntil(ctx, entry.WithField("sender", sender), payload, s.limiter.NextWindowStart(), "hourly limit reached")
	}

	if err := s.pacer.Wait(ctx); err != nil {
		return s.done(OutcomeRetry, fmt.Errorf("pacing wait interrupted: %w", err))
	}

	// Send
	msg := mailer.Message{
		From:    s.opts.From,
		To:      payload.RecipientEmail,
		Subject: payload.Subject,
		Text:    payload.Body,
	}
	start := time.Now()
	_, sendErr := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.mailer.Send(ctx, msg)
	})
	metrics.ObserveSend(start)

	if errors.Is(sendErr, gobreaker.ErrOpenState) || errors.Is(sendErr, gobreaker.ErrTooManyRequests) {
		return s.deferUntil(ctx, entry, payload, s.now().Add(s.opts.BreakerTimeout), "transport breaker open")
	}

	if sendErr != nil {
		if err := s.jobRepo.MarkFailed(ctx, job.ID); err != nil && !errors.Is(err, repository.ErrJobNotScheduled) {
			// Still SCHEDULED; failing the unit would strand the job with no live unit
			logger.LogError(entry, "Process", "mark job failed", nil, err)
			return s.done(OutcomeRetry, fmt.Errorf("failed to mark email job %d failed: %w", job.ID, err))
		}
		event := events.NewDeliveryEvent(models.EventFailed, payload, correlationID, s.now())
		event.Error = sendErr.Error()
		s.publish(ctx, entry, event)

		entry.WithError(sendErr).Warn("Email send failed")
		return s.done(OutcomeFailed, fmt.Errorf("failed to send email job %d: %w", job.ID, sendErr))
	}

	sentAt := s.now()
	if err := s.jobRepo.MarkSent(ctx, job.ID, sentAt); err != nil {
		// The email is out; redelivering would send it twice
		logger.LogError(entry, "Process", "mark job sent", nil, err)
	}
	s.publish(ctx, entry, events.NewDeliveryEvent(models.EventSent, payload, correlationID, sentAt))

	entry.Info("Email sent")
	return s.done(OutcomeSent, nil)
}

// deferUntil re-enqueues the same payload for a later window; the job row is untouched
func (s *DeliveryService) deferUntil(ctx context.Context, entry *logrus.Entry, payload models.SendPayload, until time.Time, reason string) (Outcome, error) {
	correlationID := models.DeferredCorrelationID(payload.EmailJobID, until)
	delay := until.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	added, err := s.queue.Enqueue(ctx, correlationID, payload, delay)
	if err != nil {
		return s.done(OutcomeRetry, fmt.Errorf("failed to defer email job %d: %w", payload.EmailJobID, err))
	}

	event := events.NewDeliveryEvent(models.EventDeferred, payload, correlationID, s.now())
	deferred := until.UTC()
	event.DeferredUntil = &deferred
	s.publish(ctx, entry, event)

	entry.WithFields(logrus.Fields{
		"deferred_until": deferred,
		"deferred_unit":  correlationID,
		"new_unit":       added,
		"reason":         reason,
	}).Info("Email deferred")

	return s.done(OutcomeDeferred, nil)
}

func (s *DeliveryService) publish(ctx context.Context, entry *logrus.Entry, event models.DeliveryEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		entry.WithError(err).WithField("event", event.Type).Warn("Failed to publish delivery event")
	}
}

func (s *DeliveryService) done(outcome Outcome, err error) (Outcome, error) {
	if outcome != OutcomeRetry {
		metrics.ObserveDelivery(string(outcome))
	}
	return outcome, err
}

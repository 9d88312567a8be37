package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mailpacer/internal/logger"
	"mailpacer/internal/metrics"
	"mailpacer/internal/models"
	"mailpacer/internal/queue"
	"mailpacer/internal/service"
)

// Queue is the consumer side of the delayed dispatch queue
type Queue interface {
	Reserve(ctx context.Context, owner string) (*queue.Unit, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) error
	RequeueStalled(ctx context.Context) (int, error)
	Counts(ctx context.Context) (queue.Counts, error)
}

// Processor runs the delivery state machine for one unit
type Processor interface {
	Process(ctx context.Context, correlationID string, payload models.SendPayload) (service.Outcome, error)
}

// Options configures the pool
type Options struct {
	Concurrency int
	// PollInterval is how long an idle consumer sleeps before asking again
	PollInterval time.Duration
	// MaintenanceInterval drives stalled-unit recovery and queue gauges
	MaintenanceInterval time.Duration
	// HandleTimeout bounds one unit, including the drain after shutdown
	HandleTimeout time.Duration
	// Lease is the queue's lease. When set, HandleTimeout is capped so a unit is
	// acknowledged before stalled recovery can hand it to another consumer.
	Lease time.Duration
}

// ackTimeout bounds the acknowledgement after the processor returns
const ackTimeout = 10 * time.Second

// handleTimeoutFor leaves one maintenance interval of headroom under the lease,
// never less than half the lease
func handleTimeoutFor(lease, maintenance time.Duration) time.Duration {
	if lease-maintenance < lease/2 {
		return lease / 2
	}
	return lease - maintenance
}

// Pool runs Concurrency consumers against the shared queue. Any number of pools,
// in any number of processes, can consume the same queue.
type Pool struct {
	queue     Queue
	processor Processor
	opts      Options
	id        string
	log       *logrus.Entry
}

// NewPacer spaces send initiation at least minDelay apart across this pool's consumers.
// Put it in front of the shared Redis pacer so a process holds at most one
// cross-process slot at a time.
func NewPacer(minDelay time.Duration) *rate.Limiter {
	if minDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(minDelay), 1)
}

// Pacers waits on each pacer in turn and stops at the first error
type Pacers []service.Pacer

// Wait implements service.Pacer
func (ps Pacers) Wait(ctx context.Context) error {
	for _, p := range ps {
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// New creates a worker pool
func New(q Queue, processor Processor, opts Options, log *logrus.Entry) *Pool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 15 * time.Second
	}
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = 5 * time.Minute
	}
	if opts.Lease > 0 {
		if limit := handleTimeoutFor(opts.Lease, opts.MaintenanceInterval); opts.HandleTimeout > limit {
			opts.HandleTimeout = limit
		}
	}

	id := uuid.NewString()
	return &Pool{
		queue:     q,
		processor: processor,
		opts:      opts,
		id:        id,
		log:       log.WithField("pool_id", id),
	}
}

// ID identifies this pool as the lease owner prefix
func (p *Pool) ID() string {
	return p.id
}

// Run consumes until ctx is cancelled, then lets in-flight units finish before returning
func (p *Pool) Run(ctx context.Context) error {
	p.log.WithField("concurrency", p.opts.Concurrency).Info("Worker pool started")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Concurrency; i++ {
		owner := fmt.Sprintf("%s-%d", p.id, i)
		g.Go(func() error {
			p.consume(gctx, owner)
			return nil
		})
	}
	g.Go(func() error {
		p.maintain(gctx)
		return nil
	})

	err := g.Wait()
	p.log.Info("Worker pool stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, owner string) {
	entry := p.log.WithField("consumer", owner)

	for ctx.Err() == nil {
		unit, err := p.queue.Reserve(ctx, owner)
		switch {
		case errors.Is(err, queue.ErrNoUnit):
			p.sleep(ctx, p.opts.PollInterval)
			continue
		case errors.Is(err, queue.ErrMalformedUnit):
			entry.WithError(err).Error("Dropped malformed unit")
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.LogError(entry, "consume", "reserve unit", nil, err)
			p.sleep(ctx, p.opts.PollInterval)
			continue
		}

		p.handle(ctx, entry, unit)
	}
}

// handle runs one unit to completion. It ignores cancellation of ctx so a shutdown
// never abandons a send halfway; HandleTimeout still bounds it.
func (p *Pool) handle(ctx context.Context, entry *logrus.Entry, unit *queue.Unit) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.HandleTimeout)
	defer cancel()

	entry = entry.WithFields(logrus.Fields{
		"unit_id":  unit.ID,
		"job_id":   unit.Payload.EmailJobID,
		"attempts": unit.Attempts,
	})

	outcome, err := p.processor.Process(hctx, unit.ID, unit.Payload)

	actx, acancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer acancel()

	var ackErr error
	switch outcome {
	case service.OutcomeFailed:
		ackErr = p.queue.Fail(actx, unit.ID, err)
	case service.OutcomeRetry:
		// Left active; the lease expires and stalled recovery hands it out again
		entry.WithError(err).Warn("Unit will be retried after its lease expires")
		return
	default:
		ackErr = p.queue.Complete(actx, unit.ID)
	}

	if errors.Is(ackErr, queue.ErrUnitNotActive) {
		entry.Warn("Unit lease was lost before acknowledgement")
	} else if ackErr != nil {
		logger.LogError(entry, "handle", "acknowledge unit", logrus.Fields{"outcome": outcome}, ackErr)
	}
}

func (p *Pool) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Maintain(ctx)
		}
	}
}

// Maintain requeues stalled units and refreshes the queue gauges
func (p *Pool) Maintain(ctx context.Context) {
	n, err := p.queue.RequeueStalled(ctx)
	if err != nil {
		logger.LogError(p.log, "Maintain", "requeue stalled units", nil, err)
	} else if n > 0 {
		metrics.StalledRequeued.Add(float64(n))
		p.log.WithField("units", n).Warn("Requeued stalled units")
	}

	counts, err := p.queue.Counts(ctx)
	if err != nil {
		logger.LogError(p.log, "Maintain", "read queue counts", nil, err)
		return
	}
	metrics.SetQueueDepth(counts.Delayed, counts.Waiting, counts.Active, counts.Completed, counts.Failed)
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

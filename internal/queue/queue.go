package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mailpacer/internal/models"
)

var (
	// ErrNoUnit means nothing is due right now
	ErrNoUnit = errors.New("no unit available")
	// ErrUnitNotActive is returned when acknowledging a unit that is not leased
	ErrUnitNotActive = errors.New("unit is not active")
	// ErrUnitNotFound is returned by Inspect for unknown or trimmed units
	ErrUnitNotFound = errors.New("unit not found")
	// ErrMalformedUnit is returned when a reserved payload cannot be decoded; the unit is failed
	ErrMalformedUnit = errors.New("malformed unit payload")
)

// Unit states as stored in the unit hash
const (
	StateDelayed   = "delayed"
	StateWaiting   = "wait"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Options configures a Queue
type Options struct {
	Name          string
	Lease         time.Duration
	KeepCompleted int
	KeepFailed    int
	PromoteBatch  int
}

// Unit is a leased piece of work
type Unit struct {
	ID       string
	Payload  models.SendPayload
	Attempts int
}

// UnitInfo is the stored state of a unit, for inspection
type UnitInfo struct {
	ID       string
	State    string
	Attempts int
	Owner    string
	Error    string
	ReadyAt  time.Time
}

// Counts reports how many units sit in each state
type Counts struct {
	Delayed   int64 `json:"delayed"`
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is a durable delayed work queue on Redis. Units become visible no earlier
// than their ready time and insertion is idempotent by correlation id.
type Queue struct {
	client redis.Cmdable
	opts   Options
	prefix string
	now    func() time.Time
}

// New creates a queue. Zero options fall back to defaults.
func New(client redis.Cmdable, opts Options) *Queue {
	if opts.Name == "" {
		opts.Name = "email-send"
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 1000
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 5000
	}
	if opts.PromoteBatch <= 0 {
		opts.PromoteBatch = 100
	}

	return &Queue{
		client: client,
		opts:   opts,
		prefix: "mailq:" + opts.Name + ":",
		now:    time.Now,
	}
}

// WithClock replaces the time source, for tests
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.opts.Name
}

func (q *Queue) key(part string) string {
	return q.prefix + part
}

func (q *Queue) unitPrefix() string {
	return q.prefix + "unit:"
}

// Enqueue inserts a unit that becomes available after delay. A second call with the
// same correlation id is a no-op; the boolean reports whether a unit was inserted.
func (q *Queue) Enqueue(ctx context.Context, correlationID string, payload models.SendPayload, delay time.Duration) (bool, error) {
	if correlationID == "" {
		return false, errors.New("correlation id cannot be empty")
	}
	if delay < 0 {
		delay = 0
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := q.now()
	readyAt := now.Add(delay)

	added, err := enqueueScript.Run(ctx, q.client,
		[]string{q.unitPrefix() + correlationID, q.key("delayed"), q.key("wait"), q.key("seq")},
		correlationID, string(body), readyAt.UnixMilli(), now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue unit %s: %w", correlationID, err)
	}

	return added == 1, nil
}

// Reserve leases the next due unit to owner. Returns ErrNoUnit when nothing is due.
func (q *Queue) Reserve(ctx context.Context, owner string) (*Unit, error) {
	now := q.now()
	deadline := now.Add(q.opts.Lease)

	res, err := reserveScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("wait"), q.key("active")},
		now.UnixMilli(), deadline.UnixMilli(), q.unitPrefix(), q.opts.PromoteBatch, owner,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoUnit
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reserve unit: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected reserve reply: %v", res)
	}

	id, _ := res[0].(string)
	raw, _ := res[1].(string)
	attempts, _ := res[2].(int64)

	unit := &Unit{ID: id, Attempts: int(attempts)}
	if err := json.Unmarshal([]byte(raw), &unit.Payload); err != nil {
		cause := fmt.Errorf("%w: %v", ErrMalformedUnit, err)
		if failErr := q.Fail(ctx, id, cause); failErr != nil {
			return nil, fmt.Errorf("%w (fail: %v)", cause, failErr)
		}
		return nil, cause
	}

	return unit, nil
}

// Complete acknowledges a unit and archives it in the completed set
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, "completed", q.opts.KeepCompleted, StateCompleted, "")
}

// Fail archives a unit in the failed set with its error. The queue never retries it.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return q.finish(ctx, id, "failed", q.opts.KeepFailed, StateFailed, msg)
}

func (q *Queue) finish(ctx context.Context, id, set string, keep int, state, errMsg string) error {
	moved, err := finishScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key(set)},
		id, q.now().UnixMilli(), q.unitPrefix(), keep, state, errMsg,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to move unit %s to %s: %w", id, state, err)
	}
	if moved == 0 {
		return ErrUnitNotActive
	}
	return nil
}

// RequeueStalled returns units whose lease expired back to the wait list
func (q *Queue) RequeueStalled(ctx context.Context) (int, error) {
	n, err := requeueStalledScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("wait")},
		q.now().UnixMilli(), q.unitPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stalled units: %w", err)
	}
	return n, nil
}

// Inspect returns the stored state of a unit
func (q *Queue) Inspect(ctx context.Context, id string) (*UnitInfo, error) {
	fields, err := q.client.HGetAll(ctx, q.unitPrefix()+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect unit %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrUnitNotFound
	}

	info := &UnitInfo{
		ID:    id,
		State: fields["state"],
		Owner: fields["owner"],
		Error: fields["error"],
	}
	info.Attempts, _ = strconv.Atoi(fields["attempts"])
	if ms, err := strconv.ParseInt(fields["ready_at"], 10, 64); err == nil {
		info.ReadyAt = time.UnixMilli(ms).UTC()
	}

	return info, nil
}

// Counts reports the size of each state set
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.ZCard(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))

	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("failed to read queue counts: %w", err)
	}

	return Counts{
		Delayed:   delayed.Val(),
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

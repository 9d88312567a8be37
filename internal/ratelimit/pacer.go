package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const paceKeyPrefix = "email_pace:"

// paceScript hands out the next send start time: max(now, last granted + spacing).
// The grant is stored so every process reserving after it queues behind it.
var paceScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local spacing = tonumber(ARGV[2])
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
local slot = math.max(now, last + spacing)
redis.call('SET', KEYS[1], string.format('%.0f', slot), 'PX', string.format('%.0f', slot - now + spacing))
return string.format('%.0f', slot)
`)

// Pacer spaces send starts at least minDelay apart across every process sharing
// the Redis key
type Pacer struct {
	client   redis.Cmdable
	key      string
	minDelay time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a shared pacer named name. A non-positive minDelay never waits.
func NewPacer(client redis.Cmdable, name string, minDelay time.Duration) *Pacer {
	return &Pacer{
		client:   client,
		key:      paceKeyPrefix + name,
		minDelay: minDelay,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WithClock replaces the time source and sleeper, for tests
func (p *Pacer) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Pacer {
	p.now = now
	p.sleep = sleep
	return p
}

// Reserve claims the next start slot without waiting for it
func (p *Pacer) Reserve(ctx context.Context) (time.Time, error) {
	if p.minDelay <= 0 {
		return p.now(), nil
	}

	ms, err := paceScript.Run(ctx, p.client, []string{p.key},
		p.now().UnixMilli(), p.minDelay.Milliseconds(),
	).Int64()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to reserve pacing slot: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// Wait blocks until the caller's slot arrives or ctx is done. A cancelled wait
// leaves its slot unused.
func (p *Pacer) Wait(ctx context.Context) error {
	slot, err := p.Reserve(ctx)
	if err != nil {
		return err
	}
	if d := slot.Sub(p.now()); d > 0 {
		return p.sleep(ctx, d)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "email_sent:"
	// bucketTTL outlives the hour so a counter never disappears while its hour is current
	bucketTTL = 3660 * time.Second
)

// reserveScript checks and increments the bucket in one step.
// Over the limit it reports the current count and leaves the key untouched.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return {0, current}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, count}
`)

// Reservation is the outcome of ReserveSlot
type Reservation struct {
	Allowed bool
	Count   int64
}

// Limiter tracks per-sender hourly send counts in Redis, shared by every worker process
type Limiter struct {
	client redis.Cmdable
	now    func() time.Time
}

// New creates a limiter over the given Redis client
func New(client redis.Cmdable) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// WithClock replaces the time source, for tests
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// HourKey formats the UTC hour bucket as YYYYMMDDHH
func HourKey(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// BucketKey is the Redis key for a sender's counter in the hour containing t
func BucketKey(sender string, t time.Time) string {
	return keyPrefix + sender + ":" + HourKey(t)
}

// CurrentCount returns the sender's count in the active hour, 0 if absent
func (l *Limiter) CurrentCount(ctx context.Context, sender string) (int64, error) {
	n, err := l.client.Get(ctx, BucketKey(sender, l.now())).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read hourly count: %w", err)
	}
	return n, nil
}

// ReserveSlot atomically takes one send from the sender's hourly allowance.
// When the bucket is already at maxPerHour nothing is mutated.
func (l *Limiter) ReserveSlot(ctx context.Context, sender string, maxPerHour int) (Reservation, error) {
	if maxPerHour < 1 {
		maxPerHour = 1
	}

	key := BucketKey(sender, l.now())
	res, err := reserveScript.Run(ctx, l.client, []string{key}, maxPerHour, bucketTTL.Milliseconds()).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("failed to reserve send slot: %w", err)
	}
	if len(res) != 2 {
		return Reservation{}, fmt.Errorf("unexpected reserve reply: %v", res)
	}

	return Reservation{Allowed: res[0] == 1, Count: res[1]}, nil
}

// NextWindowStart is the first UTC hour boundary strictly after now
func (l *Limiter) NextWindowStart() time.Time {
	return NextHour(l.now())
}

// NextHour returns the UTC hour boundary strictly after t
func NextHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).Add(time.Hour)
}

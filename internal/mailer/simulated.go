package mailer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// SimulatedMailer pretends to deliver mail with configurable success rate and latency.
// Used when no SMTP relay is configured.
type SimulatedMailer struct {
	successRate float64 // 0.0 to 1.0
	minLatency  time.Duration
	maxLatency  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
	sent []Message
}

// NewSimulatedMailer creates a simulated transport with 50-200ms latency
func NewSimulatedMailer(successRate float64) *SimulatedMailer {
	return &SimulatedMailer{
		successRate: clampRate(successRate),
		minLatency:  50 * time.Millisecond,
		maxLatency:  200 * time.Millisecond,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithLatency overrides the simulated network latency range
func (s *SimulatedMailer) WithLatency(min, max time.Duration) *SimulatedMailer {
	if max < min {
		max = min
	}
	s.minLatency, s.maxLatency = min, max
	return s
}

// WithSeed makes outcomes reproducible
func (s *SimulatedMailer) WithSeed(seed int64) *SimulatedMailer {
	s.mu.Lock()
	s.rand = rand.New(rand.NewSource(seed))
	s.mu.Unlock()
	return s
}

// Send waits out a random latency and then succeeds with the configured probability
func (s *SimulatedMailer) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	latency := s.minLatency
	if span := s.maxLatency - s.minLatency; span > 0 {
		latency += time.Duration(s.rand.Int63n(int64(span)))
	}
	success := s.rand.Float64() < s.successRate
	reason := failures[s.rand.Intn(len(failures))]
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if !success {
		return fmt.Errorf("failed to send email to %s: %s", msg.To, reason)
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	return nil
}

// Sent returns a copy of every message delivered so far
func (s *SimulatedMailer) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// SuccessRate returns the configured success rate
func (s *SimulatedMailer) SuccessRate() float64 {
	return s.successRate
}

var failures = []string{
	"connection timeout",
	"mailbox unavailable",
	"message rejected as spam",
	"service temporarily unavailable",
	"relay access denied",
}

func clampRate(rate float64) float64 {
	if rate < 0.0 {
		return 0.0
	}
	if rate > 1.0 {
		return 1.0
	}
	return rate
}

package service

import (
	"context"
	"sync"
	"time"

	"mailpacer/internal/mailer"
	"mailpacer/internal/models"
	"mailpacer/internal/ratelimit"
	"mailpacer/internal/repository"
)

// MockCampaignRepository keeps campaigns in memory unless a Func overrides it
type MockCampaignRepository struct {
	CreateFunc  func(ctx context.Context, campaign *models.Campaign) error
	GetByIDFunc func(ctx context.Context, id int64) (*models.Campaign, error)

	mu        sync.Mutex
	campaigns map[int64]*models.Campaign
	nextID    int64
	Calls     map[string]int
}

func NewMockCampaignRepository() *MockCampaignRepository {
	return &MockCampaignRepository{
		campaigns: make(map[int64]*models.Campaign),
		Calls:     make(map[string]int),
	}
}

func (m *MockCampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Create"]++
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, campaign)
	}
	m.nextID++
	campaign.ID = m.nextID
	campaign.CreatedAt = time.Now()
	stored := *campaign
	m.campaigns[campaign.ID] = &stored
	return nil
}

func (m *MockCampaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["GetByID"]++
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	c, ok := m.campaigns[id]
	if !ok {
		return nil, repository.ErrCampaignNotFound
	}
	out := *c
	return &out, nil
}

// MockEmailJobRepository is an in-memory job store with the same SCHEDULED guard as the real one
type MockEmailJobRepository struct {
	CreateFunc        func(ctx context.Context, job *models.EmailJob) error
	BindFunc          func(ctx context.Context, jobID int64, correlationID string) error
	FindByIDFunc      func(ctx context.Context, id int64) (*models.EmailJob, error)
	ListScheduledFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error)
	ListSentFunc      func(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error)
	ListUnboundFunc   func(ctx context.Context, createdBefore time.Time, limit int) ([]*models.EmailJob, error)
	MarkSentFunc      func(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailedFunc    func(ctx context.Context, id int64) error

	mu     sync.Mutex
	jobs   map[int64]*models.EmailJob
	order  []int64
	nextID int64
	Calls  map[string]int
}

func NewMockEmailJobRepository() *MockEmailJobRepository {
	return &MockEmailJobRepository{
		jobs:  make(map[int64]*models.EmailJob),
		Calls: make(map[string]int),
	}
}

func (m *MockEmailJobRepository) Create(ctx context.Context, job *models.EmailJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Create"]++
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, job)
	}
	m.nextID++
	job.ID = m.nextID
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	stored := *job
	m.jobs[job.ID] = &stored
	m.order = append(m.order, job.ID)
	return nil
}

func (m *MockEmailJobRepository) BindCorrelationID(ctx context.Context, jobID int64, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["BindCorrelationID"]++
	if m.BindFunc != nil {
		return m.BindFunc(ctx, jobID, correlationID)
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return repository.ErrJobNotFound
	}
	job.CorrelationID = correlationID
	return nil
}

func (m *MockEmailJobRepository) FindByID(ctx context.Context, id int64) (*models.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["FindByID"]++
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

func (m *MockEmailJobRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["MarkSent"]++
	if m.MarkSentFunc != nil {
		return m.MarkSentFunc(ctx, id, sentAt)
	}
	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusScheduled {
		return repository.ErrJobNotScheduled
	}
	job.Status = models.JobStatusSent
	job.SentAt = &sentAt
	return nil
}

func (m *MockEmailJobRepository) MarkFailed(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["MarkFailed"]++
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id)
	}
	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusScheduled {
		return repository.ErrJobNotScheduled
	}
	job.Status = models.JobStatusFailed
	return nil
}

func (m *MockEmailJobRepository) ListScheduled(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ListScheduled"]++
	if m.ListScheduledFunc != nil {
		return m.ListScheduledFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

func (m *MockEmailJobRepository) ListSent(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ListSent"]++
	if m.ListSentFunc != nil {
		return m.ListSentFunc(ctx, userID, limit, offset)
	}
	return nil, nil
}

func (m *MockEmailJobRepository) ListUnbound(ctx context.Context, createdBefore time.Time, limit int) ([]*models.EmailJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ListUnbound"]++
	if m.ListUnboundFunc != nil {
		return m.ListUnboundFunc(ctx, createdBefore, limit)
	}
	var out []*models.EmailJob
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status == models.JobStatusScheduled && !job.IsBound() && !job.CreatedAt.After(createdBefore) {
			c := *job
			out = append(out, &c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Job returns a copy of the stored job, for assertions
func (m *MockEmailJobRepository) Job(id int64) models.EmailJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

// enqueued is one recorded Enqueue call
type enqueued struct {
	CorrelationID string
	Payload       models.SendPayload
	Delay         time.Duration
}

// MockQueue records enqueues and dedups by correlation id
type MockQueue struct {
	EnqueueFunc func(ctx context.Context, correlationID string, payload models.SendPayload, delay time.Duration) (bool, error)

	mu    sync.Mutex
	units []enqueued
	seen  map[string]bool
}

func NewMockQueue() *MockQueue {
	return &MockQueue{seen: make(map[string]bool)}
}

func (m *MockQueue) Enqueue(ctx context.Context, correlationID string, payload models.SendPayload, delay time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, correlationID, payload, delay)
	}
	if m.seen[correlationID] {
		return false, nil
	}
	m.seen[correlationID] = true
	m.units = append(m.units, enqueued{CorrelationID: correlationID, Payload: payload, Delay: delay})
	return true, nil
}

func (m *MockQueue) Units() []enqueued {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]enqueued, len(m.units))
	copy(out, m.units)
	return out
}

// MockLimiter grants slots up to a fixed count per sender
type MockLimiter struct {
	ReserveFunc func(ctx context.Context, sender string, maxPerHour int) (ratelimit.Reservation, error)
	NextWindow  time.Time

	mu     sync.Mutex
	counts map[string]int64
	Limits []int
}

func NewMockLimiter(nextWindow time.Time) *MockLimiter {
	return &MockLimiter{NextWindow: nextWindow, counts: make(map[string]int64)}
}

func (m *MockLimiter) ReserveSlot(ctx context.Context, sender string, maxPerHour int) (ratelimit.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Limits = append(m.Limits, maxPerHour)
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, sender, maxPerHour)
	}
	if m.counts[sender] >= int64(maxPerHour) {
		return ratelimit.Reservation{Allowed: false, Count: m.counts[sender]}, nil
	}
	m.counts[sender]++
	return ratelimit.Reservation{Allowed: true, Count: m.counts[sender]}, nil
}

func (m *MockLimiter) NextWindowStart() time.Time {
	return m.NextWindow
}

// MockMailer records sends and returns SendErr when set
type MockMailer struct {
	SendErr error

	mu   sync.Mutex
	sent []mailer.Message
}

func (m *MockMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockMailer) Sent() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mailer.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// RecordingPublisher keeps every published event
type RecordingPublisher struct {
	mu     sync.Mutex
	events []models.DeliveryEvent
}

func (p *RecordingPublisher) Publish(ctx context.Context, event models.DeliveryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

func (p *RecordingPublisher) Types() []models.DeliveryEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.DeliveryEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// noPacer never waits
type noPacer struct{}

func (noPacer) Wait(ctx context.Context) error { return ctx.Err() }

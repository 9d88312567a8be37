package service

import (
	"context"
	"time"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// Pinger is anything that can report reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// HealthChecker handles health check operations
type HealthChecker struct {
	db      Pinger
	redis   Pinger
	events  Pinger // nil when delivery events are disabled
	version string
}

// NewHealthService creates a new HealthChecker instance
func NewHealthService(db, redis, events Pinger, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redis,
		events:  events,
		version: version,
	}
}

func check(ctx context.Context, p Pinger) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus: database or redis down is unhealthy, the event bus down is degraded
func determineOverallStatus(services map[string]string) string {
	if services["database"] == StatusDisconnected || services["redis"] == StatusDisconnected {
		return StatusUnhealthy
	}
	if services["events"] == StatusDisconnected {
		return StatusDegraded
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	services := map[string]string{
		"database": check(ctx, h.db),
		"redis":    check(ctx, h.redis),
	}
	if h.events != nil {
		services["events"] = check(ctx, h.events)
	}

	return &HealthStatus{
		Status:    determineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}

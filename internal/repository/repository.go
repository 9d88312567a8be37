package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mailpacer/internal/models"
)

var (
	// ErrCampaignNotFound is returned when no campaign row matches
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrJobNotFound is returned when no email job row matches
	ErrJobNotFound = errors.New("email job not found")
	// ErrJobNotScheduled is returned by terminal transitions on a job that already left SCHEDULED
	ErrJobNotScheduled = errors.New("email job is not scheduled")
)

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
}

// EmailJobRepository is the Job Store: the source of truth for whether a job was sent
type EmailJobRepository interface {
	Create(ctx context.Context, job *models.EmailJob) error
	BindCorrelationID(ctx context.Context, jobID int64, correlationID string) error
	FindByID(ctx context.Context, id int64) (*models.EmailJob, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64) error
	ListScheduled(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error)
	ListSent(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error)
	ListUnbound(ctx context.Context, createdBefore time.Time, limit int) ([]*models.EmailJob, error)
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mailpacer/internal/models"
)

type emailJobRepository struct {
	db DB
}

// NewEmailJobRepository creates a new email job repository
func NewEmailJobRepository(db DB) EmailJobRepository {
	return &emailJobRepository{db: db}
}

// Create inserts a SCHEDULED job. The caller supplies a placeholder correlation id
// until the queue accepts the job.
func (r *emailJobRepository) Create(ctx context.Context, job *models.EmailJob) error {
	query := `
		INSERT INTO email_jobs (campaign_id, recipient_email, scheduled_at, status, correlation_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	if job.Status == "" {
		job.Status = models.JobStatusScheduled
	}

	err := r.db.QueryRowContext(
		ctx,
		query,
		job.CampaignID,
		job.RecipientEmail,
		job.ScheduledAt,
		job.Status,
		job.CorrelationID,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create email job: %w", err)
	}

	return nil
}

// BindCorrelationID stores the real queue correlation id on a job
func (r *emailJobRepository) BindCorrelationID(ctx context.Context, jobID int64, correlationID string) error {
	query := `
		UPDATE email_jobs
		SET correlation_id = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, correlationID, jobID)
	if err != nil {
		return fmt.Errorf("failed to bind correlation id: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrJobNotFound
	}

	return nil
}

// FindByID retrieves a job by ID
func (r *emailJobRepository) FindByID(ctx context.Context, id int64) (*models.EmailJob, error) {
	query := `
		SELECT id, campaign_id, recipient_email, scheduled_at, sent_at, status, correlation_id, created_at, updated_at
		FROM email_jobs
		WHERE id = $1
	`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email job: %w", err)
	}

	return job, nil
}

// MarkSent moves a SCHEDULED job to SENT
func (r *emailJobRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := `
		UPDATE email_jobs
		SET status = $1, sent_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status = $4
	`

	return r.transition(ctx, query, models.JobStatusSent, sentAt, id, models.JobStatusScheduled)
}

// MarkFailed moves a SCHEDULED job to FAILED
func (r *emailJobRepository) MarkFailed(ctx context.Context, id int64) error {
	query := `
		UPDATE email_jobs
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3
	`

	return r.transition(ctx, query, models.JobStatusFailed, id, models.JobStatusScheduled)
}

func (r *emailJobRepository) transition(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update email job status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrJobNotScheduled
	}

	return nil
}

// ListScheduled returns the user's pending jobs, earliest first
func (r *emailJobRepository) ListScheduled(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error) {
	query := `
		SELECT j.id, j.recipient_email, j.scheduled_at, j.sent_at, j.status, c.subject
		FROM email_jobs j
		JOIN campaigns c ON j.campaign_id = c.id
		WHERE j.status = $1 AND c.user_id = $2
		ORDER BY j.scheduled_at ASC, j.id ASC
		LIMIT $3 OFFSET $4
	`

	return r.list(ctx, query, models.JobStatusScheduled, userID, limit, offset)
}

// ListSent returns the user's delivered jobs, most recent first
func (r *emailJobRepository) ListSent(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error) {
	query := `
		SELECT j.id, j.recipient_email, j.scheduled_at, j.sent_at, j.status, c.subject
		FROM email_jobs j
		JOIN campaigns c ON j.campaign_id = c.id
		WHERE j.status = $1 AND c.user_id = $2
		ORDER BY j.sent_at DESC, j.id DESC
		LIMIT $3 OFFSET $4
	`

	return r.list(ctx, query, models.JobStatusSent, userID, limit, offset)
}

func (r *emailJobRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.EmailListItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list email jobs: %w", err)
	}
	defer rows.Close()

	items := []*models.EmailListItem{}
	for rows.Next() {
		item := &models.EmailListItem{}
		err := rows.Scan(
			&item.ID,
			&item.RecipientEmail,
			&item.ScheduledAt,
			&item.SentAt,
			&item.Status,
			&item.Campaign.Subject,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email job: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate email jobs: %w", err)
	}

	return items, nil
}

// ListUnbound returns SCHEDULED jobs still carrying a placeholder correlation id,
// created before createdBefore. These never reached the queue.
func (r *emailJobRepository) ListUnbound(ctx context.Context, createdBefore time.Time, limit int) ([]*models.EmailJob, error) {
	query := `
		SELECT id, campaign_id, recipient_email, scheduled_at, sent_at, status, correlation_id, created_at, updated_at
		FROM email_jobs
		WHERE status = $1 AND correlation_id LIKE $2 AND created_at < $3
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, models.JobStatusScheduled, models.PlaceholderPattern(), createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unbound email jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.EmailJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate email jobs: %w", err)
	}

	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.EmailJob, error) {
	job := &models.EmailJob{}
	err := row.Scan(
		&job.ID,
		&job.CampaignID,
		&job.RecipientEmail,
		&job.ScheduledAt,
		&job.SentAt,
		&job.Status,
		&job.CorrelationID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

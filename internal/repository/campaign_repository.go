package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mailpacer/internal/models"
)

type campaignRepository struct {
	db DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// Create persists a campaign and fills in its id and creation time
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	query := `
		INSERT INTO campaigns (user_id, subject, body, start_time, delay_between_emails, hourly_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		campaign.UserID,
		campaign.Subject,
		campaign.Body,
		campaign.StartTime,
		campaign.DelayBetweenEmails,
		campaign.HourlyLimit,
	).Scan(&campaign.ID, &campaign.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `
		SELECT id, user_id, subject, body, start_time, delay_between_emails, hourly_limit, created_at
		FROM campaigns
		WHERE id = $1
	`

	campaign := &models.Campaign{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID,
		&campaign.UserID,
		&campaign.Subject,
		&campaign.Body,
		&campaign.StartTime,
		&campaign.DelayBetweenEmails,
		&campaign.HourlyLimit,
		&campaign.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

package service

import (
	"context"
	"fmt"

	"mailpacer/internal/models"
	"mailpacer/internal/repository"
)

// Listing bounds
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// EmailService serves a user's scheduled and sent emails
type EmailService struct {
	jobRepo repository.EmailJobRepository
}

// NewEmailService creates a new email service
func NewEmailService(jobRepo repository.EmailJobRepository) *EmailService {
	return &EmailService{jobRepo: jobRepo}
}

// ClampPage forces limit into [1, MaxListLimit] and offset to >= 0
func ClampPage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListScheduled returns the user's SCHEDULED emails, soonest first
func (s *EmailService) ListScheduled(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error) {
	limit, offset = ClampPage(limit, offset)
	items, err := s.jobRepo.ListScheduled(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled emails: %w", err)
	}
	return nonNil(items), nil
}

// ListSent returns the user's SENT emails, most recent first
func (s *EmailService) ListSent(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error) {
	limit, offset = ClampPage(limit, offset)
	items, err := s.jobRepo.ListSent(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent emails: %w", err)
	}
	return nonNil(items), nil
}

func nonNil(items []*models.EmailListItem) []*models.EmailListItem {
	if items == nil {
		return []*models.EmailListItem{}
	}
	return items
}

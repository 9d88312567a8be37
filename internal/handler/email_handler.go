package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"mailpacer/internal/middleware"
	"mailpacer/internal/models"
	"mailpacer/internal/service"
)

// EmailLister serves a user's scheduled and sent emails
type EmailLister interface {
	ListScheduled(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error)
	ListSent(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error)
}

// EmailListResponse wraps a listing page
type EmailListResponse struct {
	Emails []*models.EmailListItem `json:"emails"`
}

// EmailHandler handles the email listing endpoints
type EmailHandler struct {
	emails EmailLister
	log    *logrus.Entry
}

// NewEmailHandler creates a new email handler
func NewEmailHandler(emails EmailLister, log *logrus.Entry) *EmailHandler {
	return &EmailHandler{emails: emails, log: log}
}

// Scheduled handles GET /api/emails/scheduled
func (h *EmailHandler) Scheduled(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.emails.ListScheduled)
}

// Sent handles GET /api/emails/sent
func (h *EmailHandler) Sent(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.emails.ListSent)
}

type listFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.EmailListItem, error)

func (h *EmailHandler) list(w http.ResponseWriter, r *http.Request, fetch listFunc) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		WriteUnauthorized(w)
		return
	}

	limit, offset := parsePage(r)
	items, err := fetch(r.Context(), userID, limit, offset)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	WriteOK(w, EmailListResponse{Emails: items})
}

// parsePage reads limit and offset; missing, zero or malformed values take the defaults
func parsePage(r *http.Request) (int, int) {
	query := r.URL.Query()

	limit := service.DefaultListLimit
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l != 0 {
		limit = l
	}

	offset := 0
	if o, err := strconv.Atoi(query.Get("offset")); err == nil {
		offset = o
	}

	return service.ClampPage(limit, offset)
}

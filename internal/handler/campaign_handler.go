package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"mailpacer/internal/middleware"
	"mailpacer/internal/service"
)

// maxCampaignBody caps a submission; large recipient lists still fit
const maxCampaignBody = 8 << 20

// CampaignCreator expands campaign submissions
type CampaignCreator interface {
	CreateCampaign(ctx context.Context, userID string, req *service.CreateCampaignRequest) (*service.CampaignResult, error)
}

// CampaignHandler handles HTTP requests for campaign operations
type CampaignHandler struct {
	campaigns CampaignCreator
	log       *logrus.Entry
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaigns CampaignCreator, log *logrus.Entry) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns, log: log}
}

// Create handles POST /api/campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		WriteUnauthorized(w)
		return
	}

	var req service.CreateCampaignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCampaignBody)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
			return
		}
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	result, err := h.campaigns.CreateCampaign(r.Context(), userID, &req)
	if err != nil {
		HandleServiceError(w, h.log, err)
		return
	}

	WriteCreated(w, result)
}

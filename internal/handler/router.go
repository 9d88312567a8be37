package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"mailpacer/internal/middleware"
)

// NewRouter wires the public API. Health is open; everything under /api needs a user.
func NewRouter(campaigns *CampaignHandler, emails *EmailHandler, health *HealthHandler, log *logrus.Entry) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))

	if health != nil {
		router.HandleFunc("/health", health.HandleHealth).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(middleware.RequireUser)
	api.HandleFunc("/campaigns", campaigns.Create).Methods(http.MethodPost)
	api.HandleFunc("/emails/scheduled", emails.Scheduled).Methods(http.MethodGet)
	api.HandleFunc("/emails/sent", emails.Sent).Methods(http.MethodGet)

	return router
}

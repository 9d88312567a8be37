package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"mailpacer/internal/service"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetail(w, status, ErrorDetail{Code: code, Message: message})
}

func writeErrorDetail(w http.ResponseWriter, status int, detail ErrorDetail) {
	_ = WriteJSON(w, status, ErrorResponse{Error: detail})
}

// WriteCreated writes a 201 Created response with the given data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteOK writes a 200 OK response with the given data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteValidationError writes a 400 Bad Request response with VALIDATION_ERROR code
func WriteValidationError(w http.ResponseWriter, message string, fields map[string]string) {
	writeErrorDetail(w, http.StatusBadRequest, ErrorDetail{
		Code:    "VALIDATION_ERROR",
		Message: message,
		Fields:  fields,
	})
}

// WriteUnauthorized writes a 401 with UNAUTHORIZED code
func WriteUnauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
}

// WriteInternalError writes a 500 without exposing internal details
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

// HandleServiceError maps service layer errors to HTTP responses.
// Only validation failures reach the client; everything else is a generic 500.
func HandleServiceError(w http.ResponseWriter, log *logrus.Entry, err error) {
	var validation *service.ValidationError
	if errors.As(err, &validation) {
		WriteValidationError(w, validation.Message, validation.Fields)
		return
	}

	log.WithError(err).Error("Unhandled service error")
	WriteInternalError(w)
}

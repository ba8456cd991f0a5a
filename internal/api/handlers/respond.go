// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gestionale-affitti/backend/internal/api/middleware"
	"github.com/gestionale-affitti/backend/internal/availability"
	"github.com/gestionale-affitti/backend/internal/calendar"
	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps service errors onto the JSON error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *availability.ConflictError

	switch {
	case errors.As(err, &conflict):
		middleware.WriteErrorWithDetails(w, http.StatusConflict, middleware.ErrConflict, availability.ErrConflictWindow.Error(), conflict.Conflicts)
	case errors.Is(err, availability.ErrConflictWindow):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, err.Error())
	case errors.Is(err, storage.ErrAlreadyExists):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrAlreadyExists, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())
	case errors.Is(err, calendar.ErrUnauthorized), errors.Is(err, availability.ErrForbidden):
		middleware.WriteError(w, http.StatusForbidden, middleware.ErrForbidden, err.Error())
	case errors.Is(err, availability.ErrInvalidWindow),
		errors.Is(err, availability.ErrValidation),
		errors.Is(err, calendar.ErrValidation):
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
	case errors.Is(err, calendar.ErrFeedUnreachable):
		middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrFeedUnreachable, err.Error())
	case errors.Is(err, calendar.ErrFeedMalformed):
		middleware.WriteError(w, http.StatusUnprocessableEntity, middleware.ErrFeedMalformed, err.Error())
	case errors.Is(err, calendar.ErrSyncFailed):
		appLog.Error("sync failed", err, "path", r.URL.Path)
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrSyncFailed, "Sync failed")
	default:
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path)
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "An unexpected error occurred")
	}
}

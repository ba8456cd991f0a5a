package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gestionale-affitti/backend/internal/api/middleware"
	"github.com/gestionale-affitti/backend/internal/calendar"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// IntegrationResponse is an integration plus the next scheduled sweep.
type IntegrationResponse struct {
	models.Integration
	NextSyncAt *time.Time `json:"next_sync_at,omitempty"`
}

func integrationResponses(list []models.Integration, scheduler *calendar.Scheduler) []IntegrationResponse {
	var next *time.Time
	if scheduler != nil {
		next = scheduler.NextRun()
	}

	out := make([]IntegrationResponse, 0, len(list))
	for _, in := range list {
		resp := IntegrationResponse{Integration: in}
		if in.Kind == models.IntegrationKindFeed && in.Active {
			resp.NextSyncAt = next
		}
		out = append(out, resp)
	}
	return out
}

// ListIntegrations returns every integration of the caller.
func ListIntegrations(svc *calendar.SyncService, scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListIntegrations(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, integrationResponses(list, scheduler))
	}
}

// ListPropertyIntegrations returns the integrations of one property.
func ListPropertyIntegrations(svc *calendar.SyncService, scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		list, err := svc.ListPropertyIntegrations(ctx, middleware.UserID(ctx), mux.Vars(r)["propertyID"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, integrationResponses(list, scheduler))
	}
}

// RegisterFeed binds a feed URL to a property after fetching it once.
func RegisterFeed(svc *calendar.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req calendar.FeedInput
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.URL == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "URL is required")
			return
		}

		ctx := r.Context()
		in, err := svc.RegisterFeed(ctx, middleware.UserID(ctx), mux.Vars(r)["propertyID"], req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, in)
	}
}

// UpdateIntegration edits a feed integration.
func UpdateIntegration(svc *calendar.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req calendar.FeedInput
		if !decodeJSON(w, r, &req) {
			return
		}

		ctx := r.Context()
		in, err := svc.UpdateFeed(ctx, middleware.UserID(ctx), mux.Vars(r)["id"], req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, in)
	}
}

// DeleteIntegration removes an integration. Imported bookings are kept.
func DeleteIntegration(svc *calendar.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := svc.DeleteIntegration(ctx, middleware.UserID(ctx), mux.Vars(r)["id"]); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SyncIntegration runs one sync and returns its counters.
func SyncIntegration(svc *calendar.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		result, err := svc.SyncIntegration(ctx, middleware.UserID(ctx), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// SyncAll syncs every active feed of the caller.
func SyncAll(svc *calendar.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		result, err := svc.SyncAll(ctx, middleware.UserID(ctx))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

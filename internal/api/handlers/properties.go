package handlers

import (
	"net/http"

	"github.com/gestionale-affitti/backend/internal/api/middleware"
	"github.com/gestionale-affitti/backend/internal/availability"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// CreatePropertyRequest is the body of a property creation.
type CreatePropertyRequest struct {
	Name string `json:"name"`
}

// ListProperties returns the caller's properties.
func ListProperties(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		props, err := svc.ListProperties(ctx, middleware.UserID(ctx))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if props == nil {
			props = []models.Property{}
		}
		writeJSON(w, http.StatusOK, props)
	}
}

// CreateProperty registers a property for the caller.
func CreateProperty(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePropertyRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		ctx := r.Context()
		p, err := svc.CreateProperty(ctx, middleware.UserID(ctx), req.Name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

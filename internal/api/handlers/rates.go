package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gestionale-affitti/backend/internal/api/middleware"
	"github.com/gestionale-affitti/backend/internal/availability"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// ListRates returns the seasonal rates of a property.
func ListRates(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rates, err := svc.ListRates(ctx, middleware.UserID(ctx), mux.Vars(r)["propertyID"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if rates == nil {
			rates = []models.SeasonalRate{}
		}
		writeJSON(w, http.StatusOK, rates)
	}
}

// CreateRate adds a seasonal rate.
func CreateRate(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req availability.RateInput
		if !decodeJSON(w, r, &req) {
			return
		}

		ctx := r.Context()
		rate, err := svc.CreateRate(ctx, middleware.UserID(ctx), mux.Vars(r)["propertyID"], req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rate)
	}
}

// UpdateRate replaces a seasonal rate's fields.
func UpdateRate(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req availability.RateInput
		if !decodeJSON(w, r, &req) {
			return
		}

		ctx := r.Context()
		rate, err := svc.UpdateRate(ctx, middleware.UserID(ctx), mux.Vars(r)["id"], req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rate)
	}
}

// DeleteRate removes a seasonal rate.
func DeleteRate(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := svc.DeleteRate(ctx, middleware.UserID(ctx), mux.Vars(r)["id"]); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

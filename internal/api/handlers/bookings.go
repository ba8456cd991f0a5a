package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gestionale-affitti/backend/internal/api/middleware"
	"github.com/gestionale-affitti/backend/internal/availability"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// ListBookings returns the bookings of a property.
func ListBookings(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bookings, err := svc.ListBookings(ctx, middleware.UserID(ctx), mux.Vars(r)["propertyID"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if bookings == nil {
			bookings = []models.Booking{}
		}
		writeJSON(w, http.StatusOK, bookings)
	}
}

// CreateBooking adds a booking after checking the window is free.
func CreateBooking(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req availability.BookingInput
		if !decodeJSON(w, r, &req) {
			return
		}

		ctx := r.Context()
		b, err := svc.CreateBooking(ctx, middleware.UserID(ctx), mux.Vars(r)["propertyID"], req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

// GetBooking returns a single booking.
func GetBooking(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		b, err := svc.GetBooking(ctx, middleware.UserID(ctx), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

// UpdateBooking replaces a booking's fields.
func UpdateBooking(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req availability.BookingInput
		if !decodeJSON(w, r, &req) {
			return
		}

		ctx := r.Context()
		b, err := svc.UpdateBooking(ctx, middleware.UserID(ctx), mux.Vars(r)["id"], req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

// DeleteBooking removes a booking.
func DeleteBooking(svc *availability.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := svc.DeleteBooking(ctx, middleware.UserID(ctx), mux.Vars(r)["id"]); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

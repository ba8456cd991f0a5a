// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/gestionale-affitti/backend/internal/api/handlers"
	"github.com/gestionale-affitti/backend/internal/api/middleware"
	"github.com/gestionale-affitti/backend/internal/availability"
	"github.com/gestionale-affitti/backend/internal/calendar"
	"github.com/gestionale-affitti/backend/internal/storage"
	"github.com/gestionale-affitti/backend/internal/websocket"
)

// Services bundles what the handlers call into.
type Services struct {
	Availability *availability.Service
	Sync         *calendar.SyncService
	Export       *calendar.ExportService
	// Scheduler may be nil when the periodic sweep is disabled.
	Scheduler *calendar.Scheduler

	// ExportRate and ExportBurst limit the public feed per client IP.
	ExportRate  rate.Limit
	ExportBurst int
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(db *storage.DB, hub *websocket.Hub, staticDir string, svc Services) *mux.Router {
	if svc.ExportRate <= 0 {
		svc.ExportRate = 1
	}
	if svc.ExportBurst <= 0 {
		svc.ExportBurst = 5
	}

	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	api := r.PathPrefix("/api").Subrouter()

	// Public endpoints
	api.HandleFunc("/health", handlers.HealthCheck(db)).Methods("GET")

	exportLimit := middleware.RateLimit(middleware.NewIPRateLimiter(svc.ExportRate, svc.ExportBurst))
	api.Handle("/properties/{propertyID}/calendar.ics", exportLimit(handlers.ExportFeed(svc.Export))).Methods("GET")

	// Everything else acts on behalf of the caller
	user := api.NewRoute().Subrouter()
	user.Use(middleware.RequireUser)

	user.HandleFunc("/status", handlers.Status(db, hub, svc.Scheduler)).Methods("GET")
	user.HandleFunc("/ws", handlers.WebSocketUpgrade(hub)).Methods("GET")

	// Property endpoints
	user.HandleFunc("/properties", handlers.ListProperties(svc.Availability)).Methods("GET")
	user.HandleFunc("/properties", handlers.CreateProperty(svc.Availability)).Methods("POST")
	user.HandleFunc("/properties/{propertyID}/export-token", handlers.IssueExportToken(svc.Export)).Methods("POST")

	// Integration endpoints
	user.HandleFunc("/integrations", handlers.ListIntegrations(svc.Sync, svc.Scheduler)).Methods("GET")
	user.HandleFunc("/integrations/sync-all", handlers.SyncAll(svc.Sync)).Methods("POST")
	user.HandleFunc("/integrations/{id}", handlers.UpdateIntegration(svc.Sync)).Methods("PUT")
	user.HandleFunc("/integrations/{id}", handlers.DeleteIntegration(svc.Sync)).Methods("DELETE")
	user.HandleFunc("/integrations/{id}/sync", handlers.SyncIntegration(svc.Sync)).Methods("POST")
	user.HandleFunc("/properties/{propertyID}/integrations", handlers.ListPropertyIntegrations(svc.Sync, svc.Scheduler)).Methods("GET")
	user.HandleFunc("/properties/{propertyID}/integrations", handlers.RegisterFeed(svc.Sync)).Methods("POST")

	// Booking endpoints
	user.HandleFunc("/properties/{propertyID}/bookings", handlers.ListBookings(svc.Availability)).Methods("GET")
	user.HandleFunc("/properties/{propertyID}/bookings", handlers.CreateBooking(svc.Availability)).Methods("POST")
	user.HandleFunc("/bookings/{id}", handlers.GetBooking(svc.Availability)).Methods("GET")
	user.HandleFunc("/bookings/{id}", handlers.UpdateBooking(svc.Availability)).Methods("PUT")
	user.HandleFunc("/bookings/{id}", handlers.DeleteBooking(svc.Availability)).Methods("DELETE")

	// Seasonal rate endpoints
	user.HandleFunc("/properties/{propertyID}/rates", handlers.ListRates(svc.Availability)).Methods("GET")
	user.HandleFunc("/properties/{propertyID}/rates", handlers.CreateRate(svc.Availability)).Methods("POST")
	user.HandleFunc("/rates/{id}", handlers.UpdateRate(svc.Availability)).Methods("PUT")
	user.HandleFunc("/rates/{id}", handlers.DeleteRate(svc.Availability)).Methods("DELETE")

	// Serve static frontend files
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}

	return r
}

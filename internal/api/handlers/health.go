package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gestionale-affitti/backend/internal/calendar"
	"github.com/gestionale-affitti/backend/internal/storage"
	"github.com/gestionale-affitti/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbConnected := db.PingContext(ctx) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		})
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Properties       int        `json:"properties"`
	ActiveFeeds      int        `json:"active_feeds"`
	FailingFeeds     int        `json:"failing_feeds"`
	Bookings         int        `json:"bookings"`
	WebSocketClients int        `json:"websocket_clients"`
	NextSweepAt      *time.Time `json:"next_sweep_at,omitempty"`
}

// Status returns a handler that provides system status information.
func Status(db *storage.DB, hub *websocket.Hub, scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var resp StatusResponse

		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM properties").Scan(&resp.Properties)
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM integrations WHERE kind = 'feed' AND active = 1").Scan(&resp.ActiveFeeds)
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM integrations WHERE kind = 'feed' AND last_error_message IS NOT NULL").Scan(&resp.FailingFeeds)
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings").Scan(&resp.Bookings)

		if hub != nil {
			resp.WebSocketClients = hub.ClientCount()
		}
		if scheduler != nil {
			resp.NextSweepAt = scheduler.NextRun()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

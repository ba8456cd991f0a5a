package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/gestionale-affitti/backend/internal/api/middleware"
	"github.com/gestionale-affitti/backend/internal/calendar"
)

// ExportTokenResponse carries a freshly issued export token.
type ExportTokenResponse struct {
	Token   string `json:"token"`
	FeedURL string `json:"feed_url"`
}

func feedURL(r *http.Request, propertyID, token string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return fmt.Sprintf("%s://%s/api/properties/%s/calendar.ics?token=%s",
		scheme, r.Host, url.PathEscape(propertyID), url.QueryEscape(token))
}

// IssueExportToken creates or rotates a property's export token.
func IssueExportToken(svc *calendar.ExportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		propertyID := mux.Vars(r)["propertyID"]

		token, err := svc.IssueToken(ctx, middleware.UserID(ctx), propertyID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ExportTokenResponse{
			Token:   token,
			FeedURL: feedURL(r, propertyID, token),
		})
	}
}

// ExportFeed serves a property's bookings as an iCal file. It is public and
// gated only by the token query parameter.
func ExportFeed(svc *calendar.ExportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		propertyID := mux.Vars(r)["propertyID"]

		body, err := svc.BuildFeed(r.Context(), propertyID, r.URL.Query().Get("token"))
		if errors.Is(err, calendar.ErrUnauthorized) {
			middleware.WriteError(w, http.StatusUnauthorized, middleware.ErrUnauthorized, "Invalid or missing token")
			return
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="property-%s.ics"`, propertyID))
		w.Header().Set("Cache-Control", "no-store")
		w.Write(body)
	}
}

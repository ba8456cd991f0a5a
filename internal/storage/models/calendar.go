package models

import (
	"time"
)

// RemoteEvent is a normalized VEVENT read from an external feed.
type RemoteEvent struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
}

// IsTimed reports whether the event carries a usable window.
func (e RemoteEvent) IsTimed() bool {
	return !e.Start.IsZero() && !e.End.IsZero() && e.End.After(e.Start)
}

// SyncResult contains the counters of one reconciliation pass.
type SyncResult struct {
	IntegrationID string    `json:"integration_id,omitempty"`
	PropertyID    string    `json:"property_id"`
	TotalEvents   int       `json:"total_events"`
	NewEvents     int       `json:"new_events"`
	UpdatedEvents int       `json:"updated_events"`
	SkippedEvents int       `json:"skipped_events"`
	SyncedAt      time.Time `json:"synced_at"`
}

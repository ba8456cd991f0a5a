// Package models contains the domain models for the application.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Integration kinds
const (
	IntegrationKindFeed   = "feed"
	IntegrationKindExport = "export"
)

// Integration is one external-calendar binding for exactly one property.
// Feed integrations import a remote iCal URL; export integrations hold the
// token guarding the property's outbound feed.
type Integration struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	PropertyID string        `json:"property_id"`
	Kind       string        `json:"kind"`
	URL        string        `json:"url,omitempty"`
	Feed       *FeedConfig   `json:"feed,omitempty"`
	Export     *ExportConfig `json:"-"`
	LastSyncAt *time.Time    `json:"last_sync_at,omitempty"`
	LastError  *LastError    `json:"last_error,omitempty"`
	Active     bool          `json:"active"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// FeedConfig is the configuration of a feed integration.
type FeedConfig struct {
	DisplayName string `json:"display_name"`
}

// ExportConfig is the configuration of an export integration.
type ExportConfig struct {
	Token string `json:"token"`
}

// LastError is the snapshot written when a sync attempt fails.
type LastError struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// DisplayName returns the feed's label, falling back to the kind.
func (i *Integration) DisplayName() string {
	if i.Feed != nil && i.Feed.DisplayName != "" {
		return i.Feed.DisplayName
	}
	return i.Kind
}

// EncodeConfig serializes the kind-specific configuration for storage.
func (i *Integration) EncodeConfig() (string, error) {
	var v any
	switch i.Kind {
	case IntegrationKindFeed:
		if i.Feed == nil {
			i.Feed = &FeedConfig{}
		}
		v = i.Feed
	case IntegrationKindExport:
		if i.Export == nil {
			i.Export = &ExportConfig{}
		}
		v = i.Export
	default:
		return "", fmt.Errorf("unknown integration kind %q", i.Kind)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding %s config: %w", i.Kind, err)
	}
	return string(b), nil
}

// DecodeConfig populates the kind-specific configuration from storage.
func (i *Integration) DecodeConfig(raw string) error {
	if raw == "" {
		raw = "{}"
	}
	switch i.Kind {
	case IntegrationKindFeed:
		i.Feed = &FeedConfig{}
		return json.Unmarshal([]byte(raw), i.Feed)
	case IntegrationKindExport:
		i.Export = &ExportConfig{}
		return json.Unmarshal([]byte(raw), i.Export)
	default:
		return fmt.Errorf("unknown integration kind %q", i.Kind)
	}
}

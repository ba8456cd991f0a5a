package calendar

import (
	"context"
	"fmt"
	"strings"

	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// FeedInput is the writable part of a feed integration.
type FeedInput struct {
	URL         string `json:"url"`
	DisplayName string `json:"display_name"`
	Active      *bool  `json:"active,omitempty"`
}

// checkProperty returns storage.ErrNotFound for a missing property and
// ErrUnauthorized for one owned by somebody else.
func (s *SyncService) checkProperty(ctx context.Context, userID, propertyID string) error {
	p, err := s.properties.GetByID(ctx, propertyID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("property %s: %w", propertyID, storage.ErrNotFound)
	}
	if p.UserID != userID {
		return fmt.Errorf("property %s: %w", propertyID, ErrUnauthorized)
	}
	return nil
}

func (s *SyncService) ownedIntegration(ctx context.Context, userID, id string) (*models.Integration, error) {
	in, err := s.integrations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, fmt.Errorf("integration %s: %w", id, storage.ErrNotFound)
	}
	if in.UserID != userID {
		return nil, fmt.Errorf("integration %s: %w", id, ErrUnauthorized)
	}
	return in, nil
}

// validateFeed fetches and parses url once so a broken feed is never stored.
func (s *SyncService) validateFeed(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	if _, err := s.source.FetchAndParse(ctx, url); err != nil {
		return err
	}
	return nil
}

// RegisterFeed binds a remote feed to a property. An empty URL fails with
// ErrValidation before any lookup. The feed is fetched and parsed before
// anything is written; a property that already has a feed fails with
// storage.ErrAlreadyExists.
func (s *SyncService) RegisterFeed(ctx context.Context, userID, propertyID string, input FeedInput) (*models.Integration, error) {
	url := strings.TrimSpace(input.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrValidation)
	}

	if err := s.checkProperty(ctx, userID, propertyID); err != nil {
		return nil, err
	}

	existing, err := s.integrations.GetByPropertyKind(ctx, propertyID, models.IntegrationKindFeed)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("feed for property %s: %w", propertyID, storage.ErrAlreadyExists)
	}

	if err := s.validateFeed(ctx, url); err != nil {
		return nil, err
	}

	in := &models.Integration{
		UserID:     userID,
		PropertyID: propertyID,
		Kind:       models.IntegrationKindFeed,
		URL:        url,
		Feed:       &models.FeedConfig{DisplayName: strings.TrimSpace(input.DisplayName)},
		Active:     input.Active == nil || *input.Active,
	}
	if err := s.integrations.Create(ctx, in); err != nil {
		return nil, err
	}

	appLog.Info("feed registered", "integration", in.ID, "property", propertyID, "url", appLog.RedactURL(url))
	return in, nil
}

// UpdateFeed changes a feed's URL, display name or active flag. A changed
// URL is validated again before it is stored.
func (s *SyncService) UpdateFeed(ctx context.Context, userID, id string, input FeedInput) (*models.Integration, error) {
	in, err := s.ownedIntegration(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if in.Kind != models.IntegrationKindFeed {
		return nil, fmt.Errorf("%w: %s integrations cannot be edited", ErrValidation, in.Kind)
	}

	if url := strings.TrimSpace(input.URL); url != "" && url != in.URL {
		if err := s.validateFeed(ctx, url); err != nil {
			return nil, err
		}
		in.URL = url
	}
	if name := strings.TrimSpace(input.DisplayName); name != "" {
		in.Feed.DisplayName = name
	}
	if input.Active != nil {
		in.Active = *input.Active
	}

	if err := s.integrations.Update(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

// DeleteIntegration removes an integration owned by userID. Imported
// bookings stay in the ledger.
func (s *SyncService) DeleteIntegration(ctx context.Context, userID, id string) error {
	if _, err := s.ownedIntegration(ctx, userID, id); err != nil {
		return err
	}
	return s.integrations.Delete(ctx, id)
}

// GetIntegration returns one integration owned by userID.
func (s *SyncService) GetIntegration(ctx context.Context, userID, id string) (*models.Integration, error) {
	return s.ownedIntegration(ctx, userID, id)
}

// ListIntegrations lists every integration of userID.
func (s *SyncService) ListIntegrations(ctx context.Context, userID string) ([]models.Integration, error) {
	return s.integrations.ListByUser(ctx, userID)
}

// ListPropertyIntegrations lists the integrations of one property.
func (s *SyncService) ListPropertyIntegrations(ctx context.Context, userID, propertyID string) ([]models.Integration, error) {
	if err := s.checkProperty(ctx, userID, propertyID); err != nil {
		return nil, err
	}
	return s.integrations.ListByProperty(ctx, propertyID)
}

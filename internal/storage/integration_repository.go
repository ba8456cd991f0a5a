package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gestionale-affitti/backend/internal/storage/models"
)

const integrationColumns = `id, user_id, property_id, kind, url, config, last_sync_at,
	last_error_message, last_error_at, active, created_at, updated_at`

// IntegrationRepository provides data access for calendar integrations.
type IntegrationRepository struct {
	BaseRepository
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *DB) *IntegrationRepository {
	return &IntegrationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// WithTx returns a repository running against tx.
func (r *IntegrationRepository) WithTx(tx Queryable) *IntegrationRepository {
	return &IntegrationRepository{BaseRepository: r.bind(tx)}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(s rowScanner) (*models.Integration, error) {
	var (
		in       models.Integration
		config   string
		errMsg   sql.NullString
		errAt    *time.Time
		lastSync *time.Time
	)
	if err := s.Scan(
		&in.ID, &in.UserID, &in.PropertyID, &in.Kind, &in.URL, &config, &lastSync,
		&errMsg, &errAt, &in.Active, &in.CreatedAt, &in.UpdatedAt,
	); err != nil {
		return nil, err
	}

	in.LastSyncAt = lastSync
	if errMsg.Valid {
		le := &models.LastError{Message: errMsg.String}
		if errAt != nil {
			le.At = *errAt
		}
		in.LastError = le
	}
	if err := in.DecodeConfig(config); err != nil {
		return nil, fmt.Errorf("decoding config of integration %s: %w", in.ID, err)
	}

	return &in, nil
}

func (r *IntegrationRepository) list(ctx context.Context, where string, args ...any) ([]models.Integration, error) {
	rows, err := r.Q().QueryContext(ctx, "SELECT "+integrationColumns+" FROM integrations "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close()

	var integrations []models.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		integrations = append(integrations, *in)
	}

	return integrations, rows.Err()
}

func (r *IntegrationRepository) get(ctx context.Context, where string, args ...any) (*models.Integration, error) {
	in, err := scanIntegration(r.Q().QueryRowContext(ctx, "SELECT "+integrationColumns+" FROM integrations "+where, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying integration: %w", err)
	}
	return in, nil
}

// Create inserts a new integration. A second integration of the same kind
// for one property fails with ErrAlreadyExists.
func (r *IntegrationRepository) Create(ctx context.Context, in *models.Integration) error {
	existing, err := r.GetByPropertyKind(ctx, in.PropertyID, in.Kind)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%s integration for property %s: %w", in.Kind, in.PropertyID, ErrAlreadyExists)
	}

	config, err := in.EncodeConfig()
	if err != nil {
		return err
	}

	in.ID = GenerateID()
	in.CreatedAt = r.Now()
	in.UpdatedAt = in.CreatedAt

	_, err = r.Q().ExecContext(ctx, `
		INSERT INTO integrations (
			id, user_id, property_id, kind, url, config, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.ID, in.UserID, in.PropertyID, in.Kind, in.URL, config,
		in.Active, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s integration for property %s: %w", in.Kind, in.PropertyID, ErrAlreadyExists)
		}
		return fmt.Errorf("inserting integration: %w", err)
	}

	return nil
}

// GetByID retrieves an integration by its ID.
func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	return r.get(ctx, "WHERE id = ?", id)
}

// GetByPropertyKind retrieves the integration of one kind for a property.
func (r *IntegrationRepository) GetByPropertyKind(ctx context.Context, propertyID, kind string) (*models.Integration, error) {
	return r.get(ctx, "WHERE property_id = ? AND kind = ?", propertyID, kind)
}

// ListByUser retrieves every integration owned by a user.
func (r *IntegrationRepository) ListByUser(ctx context.Context, userID string) ([]models.Integration, error) {
	return r.list(ctx, "WHERE user_id = ? ORDER BY created_at", userID)
}

// ListByProperty retrieves the integrations of one property.
func (r *IntegrationRepository) ListByProperty(ctx context.Context, propertyID string) ([]models.Integration, error) {
	return r.list(ctx, "WHERE property_id = ? ORDER BY kind", propertyID)
}

// ListActiveFeeds retrieves active feed integrations, least recently synced
// first. An empty userID selects every user.
func (r *IntegrationRepository) ListActiveFeeds(ctx context.Context, userID string) ([]models.Integration, error) {
	if userID == "" {
		return r.list(ctx, "WHERE kind = ? AND active = 1 ORDER BY last_sync_at ASC NULLS FIRST",
			models.IntegrationKindFeed)
	}
	return r.list(ctx, "WHERE kind = ? AND active = 1 AND user_id = ? ORDER BY last_sync_at ASC NULLS FIRST",
		models.IntegrationKindFeed, userID)
}

// Update updates the URL, configuration and active flag of an integration.
func (r *IntegrationRepository) Update(ctx context.Context, in *models.Integration) error {
	config, err := in.EncodeConfig()
	if err != nil {
		return err
	}
	in.UpdatedAt = r.Now()

	result, err := r.Q().ExecContext(ctx, `
		UPDATE integrations SET url = ?, config = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, in.URL, config, in.Active, in.UpdatedAt, in.ID)
	if err != nil {
		return fmt.Errorf("updating integration: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("integration %s: %w", in.ID, ErrNotFound)
	}

	return nil
}

// UpsertExport stores token on the property's export integration, creating
// the integration when missing and rotating the token otherwise.
func (r *IntegrationRepository) UpsertExport(ctx context.Context, userID, propertyID, token string) (*models.Integration, error) {
	in := &models.Integration{
		UserID:     userID,
		PropertyID: propertyID,
		Kind:       models.IntegrationKindExport,
		Export:     &models.ExportConfig{Token: token},
		Active:     true,
	}
	config, err := in.EncodeConfig()
	if err != nil {
		return nil, err
	}
	now := r.Now()

	_, err = r.Q().ExecContext(ctx, `
		INSERT INTO integrations (
			id, user_id, property_id, kind, url, config, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, '', ?, 1, ?, ?)
		ON CONFLICT(property_id, kind) DO UPDATE SET
			config = excluded.config, user_id = excluded.user_id,
			active = 1, updated_at = excluded.updated_at
	`, GenerateID(), userID, propertyID, models.IntegrationKindExport, config, now, now)
	if err != nil {
		return nil, fmt.Errorf("upserting export integration: %w", err)
	}

	return r.GetByPropertyKind(ctx, propertyID, models.IntegrationKindExport)
}

// MarkSyncStarted stamps last_sync_at.
func (r *IntegrationRepository) MarkSyncStarted(ctx context.Context, id string, at time.Time) error {
	_, err := r.Q().ExecContext(ctx, `
		UPDATE integrations SET last_sync_at = ?, updated_at = ? WHERE id = ?
	`, at.UTC(), r.Now(), id)
	if err != nil {
		return fmt.Errorf("marking sync start: %w", err)
	}
	return nil
}

// RecordSyncError writes the last-error snapshot.
func (r *IntegrationRepository) RecordSyncError(ctx context.Context, id, message string, at time.Time) error {
	_, err := r.Q().ExecContext(ctx, `
		UPDATE integrations SET last_error_message = ?, last_error_at = ?, updated_at = ? WHERE id = ?
	`, message, at.UTC(), r.Now(), id)
	if err != nil {
		return fmt.Errorf("recording sync error: %w", err)
	}
	return nil
}

// ClearSyncError removes the last-error snapshot.
func (r *IntegrationRepository) ClearSyncError(ctx context.Context, id string) error {
	_, err := r.Q().ExecContext(ctx, `
		UPDATE integrations SET last_error_message = NULL, last_error_at = NULL, updated_at = ? WHERE id = ?
	`, r.Now(), id)
	if err != nil {
		return fmt.Errorf("clearing sync error: %w", err)
	}
	return nil
}

// Delete removes an integration by ID.
func (r *IntegrationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.Q().ExecContext(ctx, "DELETE FROM integrations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting integration: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("integration %s: %w", id, ErrNotFound)
	}

	return nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// PropertyRepository provides data access for properties.
type PropertyRepository struct {
	BaseRepository
}

// NewPropertyRepository creates a new property repository.
func NewPropertyRepository(db *DB) *PropertyRepository {
	return &PropertyRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// WithTx returns a repository running against tx.
func (r *PropertyRepository) WithTx(tx Queryable) *PropertyRepository {
	return &PropertyRepository{BaseRepository: r.bind(tx)}
}

// Create inserts a new property.
func (r *PropertyRepository) Create(ctx context.Context, p *models.Property) error {
	if p.ID == "" {
		p.ID = GenerateID()
	}
	p.CreatedAt = r.Now()

	_, err := r.Q().ExecContext(ctx, `
		INSERT INTO properties (id, user_id, name, created_at) VALUES (?, ?, ?, ?)
	`, p.ID, p.UserID, p.Name, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("property %s: %w", p.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("inserting property: %w", err)
	}

	return nil
}

// GetByID retrieves a property by its ID.
func (r *PropertyRepository) GetByID(ctx context.Context, id string) (*models.Property, error) {
	p := &models.Property{}

	err := r.Q().QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at FROM properties WHERE id = ?
	`, id).Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying property: %w", err)
	}

	return p, nil
}

// ListByUser retrieves the properties owned by a user.
func (r *PropertyRepository) ListByUser(ctx context.Context, userID string) ([]models.Property, error) {
	rows, err := r.Q().QueryContext(ctx, `
		SELECT id, user_id, name, created_at FROM properties WHERE user_id = ? ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying properties: %w", err)
	}
	defer rows.Close()

	var properties []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		properties = append(properties, p)
	}

	return properties, rows.Err()
}

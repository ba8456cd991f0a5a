package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gestionale-affitti/backend/internal/storage/models"
)

const rateColumns = `id, property_id, user_id, name, start_date, end_date, price_per_night,
	min_stay, is_active, created_at, updated_at`

// SeasonalRateRepository provides data access for seasonal pricing windows.
type SeasonalRateRepository struct {
	BaseRepository
}

// NewSeasonalRateRepository creates a new seasonal rate repository.
func NewSeasonalRateRepository(db *DB) *SeasonalRateRepository {
	return &SeasonalRateRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// WithTx returns a repository running against tx.
func (r *SeasonalRateRepository) WithTx(tx Queryable) *SeasonalRateRepository {
	return &SeasonalRateRepository{BaseRepository: r.bind(tx)}
}

func scanRate(s rowScanner) (*models.SeasonalRate, error) {
	var (
		rate       models.SeasonalRate
		start, end string
		err        error
	)
	if err := s.Scan(
		&rate.ID, &rate.PropertyID, &rate.UserID, &rate.Name, &start, &end,
		&rate.PricePerNight, &rate.MinStay, &rate.IsActive, &rate.CreatedAt, &rate.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if rate.StartDate, err = models.ParseDate(start); err != nil {
		return nil, fmt.Errorf("parsing start_date of rate %s: %w", rate.ID, err)
	}
	if rate.EndDate, err = models.ParseDate(end); err != nil {
		return nil, fmt.Errorf("parsing end_date of rate %s: %w", rate.ID, err)
	}

	return &rate, nil
}

func (r *SeasonalRateRepository) list(ctx context.Context, where string, args ...any) ([]models.SeasonalRate, error) {
	rows, err := r.Q().QueryContext(ctx, "SELECT "+rateColumns+" FROM seasonal_rates "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying seasonal rates: %w", err)
	}
	defer rows.Close()

	var rates []models.SeasonalRate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning seasonal rate: %w", err)
		}
		rates = append(rates, *rate)
	}

	return rates, rows.Err()
}

// Create inserts a new seasonal rate.
func (r *SeasonalRateRepository) Create(ctx context.Context, rate *models.SeasonalRate) error {
	rate.ID = GenerateID()
	rate.CreatedAt = r.Now()
	rate.UpdatedAt = rate.CreatedAt

	_, err := r.Q().ExecContext(ctx, `
		INSERT INTO seasonal_rates (
			id, property_id, user_id, name, start_date, end_date, price_per_night,
			min_stay, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rate.ID, rate.PropertyID, rate.UserID, rate.Name,
		models.FormatDate(rate.StartDate), models.FormatDate(rate.EndDate),
		rate.PricePerNight, rate.MinStay, rate.IsActive, rate.CreatedAt, rate.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting seasonal rate: %w", err)
	}

	return nil
}

// GetByID retrieves a seasonal rate by its ID.
func (r *SeasonalRateRepository) GetByID(ctx context.Context, id string) (*models.SeasonalRate, error) {
	rate, err := scanRate(r.Q().QueryRowContext(ctx, "SELECT "+rateColumns+" FROM seasonal_rates WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying seasonal rate: %w", err)
	}
	return rate, nil
}

// ListByProperty retrieves every seasonal rate of a property.
func (r *SeasonalRateRepository) ListByProperty(ctx context.Context, propertyID string) ([]models.SeasonalRate, error) {
	return r.list(ctx, "WHERE property_id = ? ORDER BY start_date, id", propertyID)
}

// ListActive retrieves the active seasonal rates of a property.
func (r *SeasonalRateRepository) ListActive(ctx context.Context, propertyID string) ([]models.SeasonalRate, error) {
	return r.list(ctx, "WHERE property_id = ? AND is_active = 1 ORDER BY start_date, id", propertyID)
}

// Update updates an existing seasonal rate.
func (r *SeasonalRateRepository) Update(ctx context.Context, rate *models.SeasonalRate) error {
	rate.UpdatedAt = r.Now()

	result, err := r.Q().ExecContext(ctx, `
		UPDATE seasonal_rates SET
			name = ?, start_date = ?, end_date = ?, price_per_night = ?,
			min_stay = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`,
		rate.Name, models.FormatDate(rate.StartDate), models.FormatDate(rate.EndDate),
		rate.PricePerNight, rate.MinStay, rate.IsActive, rate.UpdatedAt, rate.ID,
	)
	if err != nil {
		return fmt.Errorf("updating seasonal rate: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("seasonal rate %s: %w", rate.ID, ErrNotFound)
	}

	return nil
}

// Delete removes a seasonal rate by ID.
func (r *SeasonalRateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.Q().ExecContext(ctx, "DELETE FROM seasonal_rates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting seasonal rate: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("seasonal rate %s: %w", id, ErrNotFound)
	}

	return nil
}

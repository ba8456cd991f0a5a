package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gestionale-affitti/backend/internal/storage/models"
)

const bookingColumns = `id, property_id, user_id, external_id, guest_name, check_in, check_out,
	status, source, notes, total_price, created_at, updated_at`

// BookingRepository provides data access for the booking ledger.
type BookingRepository struct {
	BaseRepository
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *DB) *BookingRepository {
	return &BookingRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// WithTx returns a repository running against tx.
func (r *BookingRepository) WithTx(tx Queryable) *BookingRepository {
	return &BookingRepository{BaseRepository: r.bind(tx)}
}

func scanBooking(s rowScanner) (*models.Booking, error) {
	var (
		b                 models.Booking
		externalID        sql.NullString
		checkIn, checkOut string
		err               error
	)
	if err := s.Scan(
		&b.ID, &b.PropertyID, &b.UserID, &externalID, &b.GuestName, &checkIn, &checkOut,
		&b.Status, &b.Source, &b.Notes, &b.TotalPrice, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if externalID.Valid {
		b.ExternalID = &externalID.String
	}
	if b.CheckIn, err = models.ParseDate(checkIn); err != nil {
		return nil, fmt.Errorf("parsing check_in of booking %s: %w", b.ID, err)
	}
	if b.CheckOut, err = models.ParseDate(checkOut); err != nil {
		return nil, fmt.Errorf("parsing check_out of booking %s: %w", b.ID, err)
	}

	return &b, nil
}

func (r *BookingRepository) list(ctx context.Context, where string, args ...any) ([]models.Booking, error) {
	rows, err := r.Q().QueryContext(ctx, "SELECT "+bookingColumns+" FROM bookings "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning booking: %w", err)
		}
		bookings = append(bookings, *b)
	}

	return bookings, rows.Err()
}

func (r *BookingRepository) get(ctx context.Context, where string, args ...any) (*models.Booking, error) {
	b, err := scanBooking(r.Q().QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings "+where, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying booking: %w", err)
	}
	return b, nil
}

// Create inserts a new booking.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	b.ID = GenerateID()
	b.CreatedAt = r.Now()
	b.UpdatedAt = b.CreatedAt

	_, err := r.Q().ExecContext(ctx, `
		INSERT INTO bookings (
			id, property_id, user_id, external_id, guest_name, check_in, check_out,
			status, source, notes, total_price, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.PropertyID, b.UserID, b.ExternalID, b.GuestName,
		models.FormatDate(b.CheckIn), models.FormatDate(b.CheckOut),
		b.Status, b.Source, b.Notes, b.TotalPrice, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("booking with external id for property %s: %w", b.PropertyID, ErrAlreadyExists)
		}
		return fmt.Errorf("inserting booking: %w", err)
	}

	return nil
}

// GetByID retrieves a booking by its ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return r.get(ctx, "WHERE id = ?", id)
}

// GetByExternalID retrieves the booking imported from a feed event.
func (r *BookingRepository) GetByExternalID(ctx context.Context, propertyID, externalID string) (*models.Booking, error) {
	return r.get(ctx, "WHERE property_id = ? AND external_id = ?", propertyID, externalID)
}

// ListByProperty retrieves every booking of a property ordered by check-in.
func (r *BookingRepository) ListByProperty(ctx context.Context, propertyID string) ([]models.Booking, error) {
	return r.list(ctx, "WHERE property_id = ? ORDER BY check_in, id", propertyID)
}

// ListOccupying retrieves the pending and confirmed bookings of a property.
func (r *BookingRepository) ListOccupying(ctx context.Context, propertyID string) ([]models.Booking, error) {
	return r.list(ctx, "WHERE property_id = ? AND status IN (?, ?) ORDER BY check_in, id",
		propertyID, models.BookingStatusPending, models.BookingStatusConfirmed)
}

// ListForExport retrieves the non-cancelled bookings of a property.
func (r *BookingRepository) ListForExport(ctx context.Context, propertyID string) ([]models.Booking, error) {
	return r.list(ctx, "WHERE property_id = ? AND status <> ? ORDER BY check_in, id",
		propertyID, models.BookingStatusCancelled)
}

// Update updates an existing booking in place. The ID and external ID are kept.
func (r *BookingRepository) Update(ctx context.Context, b *models.Booking) error {
	b.UpdatedAt = r.Now()

	result, err := r.Q().ExecContext(ctx, `
		UPDATE bookings SET
			guest_name = ?, check_in = ?, check_out = ?, status = ?, source = ?,
			notes = ?, total_price = ?, updated_at = ?
		WHERE id = ?
	`,
		b.GuestName, models.FormatDate(b.CheckIn), models.FormatDate(b.CheckOut),
		b.Status, b.Source, b.Notes, b.TotalPrice, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("updating booking: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, ErrNotFound)
	}

	return nil
}

// Delete removes a booking by ID.
func (r *BookingRepository) Delete(ctx context.Context, id string) error {
	result, err := r.Q().ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting booking: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}

	return nil
}

// Count returns the number of bookings of a property.
func (r *BookingRepository) Count(ctx context.Context, propertyID string) (int, error) {
	var n int
	if err := r.Q().QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings WHERE property_id = ?", propertyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting bookings: %w", err)
	}
	return n, nil
}

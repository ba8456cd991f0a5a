package availability

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// BookingInput is the writable part of a booking.
type BookingInput struct {
	GuestName  string  `json:"guest_name"`
	CheckIn    string  `json:"check_in"`
	CheckOut   string  `json:"check_out"`
	Status     string  `json:"status,omitempty"`
	Source     string  `json:"source,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	TotalPrice float64 `json:"total_price"`
}

// RateInput is the writable part of a seasonal rate.
type RateInput struct {
	Name          string  `json:"name"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	PricePerNight float64 `json:"price_per_night"`
	MinStay       int     `json:"min_stay"`
	IsActive      *bool   `json:"is_active,omitempty"`
}

// Service validates and applies booking and seasonal-rate writes. Every
// write runs its conflict check and the write itself in one transaction.
type Service struct {
	db         *storage.DB
	properties *storage.PropertyRepository
	bookings   *storage.BookingRepository
	rates      *storage.SeasonalRateRepository
}

// NewService creates a new availability service.
func NewService(db *storage.DB) *Service {
	return &Service{
		db:         db,
		properties: storage.NewPropertyRepository(db),
		bookings:   storage.NewBookingRepository(db),
		rates:      storage.NewSeasonalRateRepository(db),
	}
}

// CheckOwner returns storage.ErrNotFound for a missing property and
// ErrForbidden for one owned by somebody else.
func CheckOwner(ctx context.Context, properties *storage.PropertyRepository, userID, propertyID string) error {
	p, err := properties.GetByID(ctx, propertyID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("property %s: %w", propertyID, storage.ErrNotFound)
	}
	if p.UserID != userID {
		return fmt.Errorf("property %s: %w", propertyID, ErrForbidden)
	}
	return nil
}

// CreateProperty registers a property for userID.
func (s *Service) CreateProperty(ctx context.Context, userID, name string) (*models.Property, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	p := &models.Property{UserID: userID, Name: name}
	if err := s.properties.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ListProperties returns the properties owned by userID.
func (s *Service) ListProperties(ctx context.Context, userID string) ([]models.Property, error) {
	return s.properties.ListByUser(ctx, userID)
}

func applyBookingInput(b *models.Booking, in BookingInput) error {
	w, err := ParseWindow(in.CheckIn, in.CheckOut)
	if err != nil {
		return err
	}
	if in.TotalPrice < 0 {
		return fmt.Errorf("%w: total_price must not be negative", ErrValidation)
	}

	b.GuestName = strings.TrimSpace(in.GuestName)
	b.CheckIn, b.CheckOut = w.Start, w.End
	b.Notes = in.Notes
	b.TotalPrice = in.TotalPrice

	if in.Status != "" {
		if !models.IsValidBookingStatus(in.Status) {
			return fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
		}
		b.Status = in.Status
	}
	if in.Source != "" {
		switch in.Source {
		case models.BookingSourceDirect, models.BookingSourceAirbnb,
			models.BookingSourceBooking, models.BookingSourceICal:
			b.Source = in.Source
		default:
			return fmt.Errorf("%w: unknown source %q", ErrValidation, in.Source)
		}
	}
	return nil
}

// CreateBooking validates in and inserts it, failing with a ConflictError
// when the window is already occupied.
func (s *Service) CreateBooking(ctx context.Context, userID, propertyID string, in BookingInput) (*models.Booking, error) {
	b := &models.Booking{
		PropertyID: propertyID,
		UserID:     userID,
		Status:     models.BookingStatusPending,
		Source:     models.BookingSourceDirect,
	}
	if err := applyBookingInput(b, in); err != nil {
		return nil, err
	}

	err := s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		if err := CheckOwner(ctx, s.properties.WithTx(tx), userID, propertyID); err != nil {
			return err
		}
		bookings := s.bookings.WithTx(tx)
		if b.OccupiesCalendar() {
			if err := s.ensureFree(ctx, NewChecker(bookings, s.rates.WithTx(tx)), b, ""); err != nil {
				return err
			}
		}
		return bookings.Create(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	appLog.Info("booking created", "property", propertyID, "booking", b.ID,
		"check_in", models.FormatDate(b.CheckIn), "check_out", models.FormatDate(b.CheckOut))
	return b, nil
}

func (s *Service) ensureFree(ctx context.Context, c *Checker, b *models.Booking, excludeID string) error {
	conflicts, err := c.BookingConflicts(ctx, b.PropertyID, Window{Start: b.CheckIn, End: b.CheckOut}, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// GetBooking returns a booking owned by userID.
func (s *Service) GetBooking(ctx context.Context, userID, id string) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("booking %s: %w", id, storage.ErrNotFound)
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("booking %s: %w", id, ErrForbidden)
	}
	return b, nil
}

// ListBookings returns every booking of a property owned by userID.
func (s *Service) ListBookings(ctx context.Context, userID, propertyID string) ([]models.Booking, error) {
	if err := CheckOwner(ctx, s.properties, userID, propertyID); err != nil {
		return nil, err
	}
	return s.bookings.ListByProperty(ctx, propertyID)
}

// UpdateBooking replaces the writable fields of a booking. The booking's own
// window is excluded from the conflict check.
func (s *Service) UpdateBooking(ctx context.Context, userID, id string, in BookingInput) (*models.Booking, error) {
	var updated *models.Booking

	err := s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		bookings := s.bookings.WithTx(tx)
		b, err := bookings.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("booking %s: %w", id, storage.ErrNotFound)
		}
		if b.UserID != userID {
			return fmt.Errorf("booking %s: %w", id, ErrForbidden)
		}
		if err := applyBookingInput(b, in); err != nil {
			return err
		}
		if b.OccupiesCalendar() {
			if err := s.ensureFree(ctx, NewChecker(bookings, s.rates.WithTx(tx)), b, b.ID); err != nil {
				return err
			}
		}
		if err := bookings.Update(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBooking removes a booking owned by userID.
func (s *Service) DeleteBooking(ctx context.Context, userID, id string) error {
	if _, err := s.GetBooking(ctx, userID, id); err != nil {
		return err
	}
	return s.bookings.Delete(ctx, id)
}

func applyRateInput(r *models.SeasonalRate, in RateInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	w, err := ParseWindow(in.StartDate, in.EndDate)
	if err != nil {
		return err
	}
	if in.PricePerNight < 0 {
		return fmt.Errorf("%w: price_per_night must not be negative", ErrValidation)
	}
	minStay := in.MinStay
	if minStay == 0 {
		minStay = 1
	}
	if minStay < 1 {
		return fmt.Errorf("%w: min_stay must be at least 1", ErrValidation)
	}

	r.Name = name
	r.StartDate, r.EndDate = w.Start, w.End
	r.PricePerNight = in.PricePerNight
	r.MinStay = minStay
	if in.IsActive != nil {
		r.IsActive = *in.IsActive
	}
	return nil
}

func (s *Service) ensureRateFree(ctx context.Context, c *Checker, r *models.SeasonalRate) error {
	conflicts, err := c.RateConflicts(ctx, r.PropertyID, Window{Start: r.StartDate, End: r.EndDate}, r.ID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// CreateRate validates in and inserts it. Active rates may not overlap.
func (s *Service) CreateRate(ctx context.Context, userID, propertyID string, in RateInput) (*models.SeasonalRate, error) {
	r := &models.SeasonalRate{PropertyID: propertyID, UserID: userID, IsActive: true}
	if err := applyRateInput(r, in); err != nil {
		return nil, err
	}

	err := s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		if err := CheckOwner(ctx, s.properties.WithTx(tx), userID, propertyID); err != nil {
			return err
		}
		rates := s.rates.WithTx(tx)
		if r.IsActive {
			if err := s.ensureRateFree(ctx, NewChecker(s.bookings.WithTx(tx), rates), r); err != nil {
				return err
			}
		}
		return rates.Create(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRates returns every seasonal rate of a property owned by userID.
func (s *Service) ListRates(ctx context.Context, userID, propertyID string) ([]models.SeasonalRate, error) {
	if err := CheckOwner(ctx, s.properties, userID, propertyID); err != nil {
		return nil, err
	}
	return s.rates.ListByProperty(ctx, propertyID)
}

// UpdateRate replaces the writable fields of a seasonal rate.
func (s *Service) UpdateRate(ctx context.Context, userID, id string, in RateInput) (*models.SeasonalRate, error) {
	var updated *models.SeasonalRate

	err := s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		rates := s.rates.WithTx(tx)
		r, err := rates.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("seasonal rate %s: %w", id, storage.ErrNotFound)
		}
		if r.UserID != userID {
			return fmt.Errorf("seasonal rate %s: %w", id, ErrForbidden)
		}
		if err := applyRateInput(r, in); err != nil {
			return err
		}
		if r.IsActive {
			if err := s.ensureRateFree(ctx, NewChecker(s.bookings.WithTx(tx), rates), r); err != nil {
				return err
			}
		}
		if err := rates.Update(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRate removes a seasonal rate owned by userID.
func (s *Service) DeleteRate(ctx context.Context, userID, id string) error {
	r, err := s.rates.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("seasonal rate %s: %w", id, storage.ErrNotFound)
	}
	if r.UserID != userID {
		return fmt.Errorf("seasonal rate %s: %w", id, ErrForbidden)
	}
	return s.rates.Delete(ctx, id)
}

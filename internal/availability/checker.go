package availability

import (
	"context"
	"fmt"

	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// BookingFinder lists the bookings that occupy a property's calendar.
type BookingFinder interface {
	ListOccupying(ctx context.Context, propertyID string) ([]models.Booking, error)
}

// RateFinder lists the active seasonal rates of a property.
type RateFinder interface {
	ListActive(ctx context.Context, propertyID string) ([]models.SeasonalRate, error)
}

// Checker detects window conflicts against stored bookings and rates.
type Checker struct {
	bookings BookingFinder
	rates    RateFinder
}

// NewChecker creates a new conflict checker.
func NewChecker(bookings BookingFinder, rates RateFinder) *Checker {
	return &Checker{bookings: bookings, rates: rates}
}

// BookingConflicts returns the pending or confirmed bookings of the property
// overlapping w, ignoring excludeID.
func (c *Checker) BookingConflicts(ctx context.Context, propertyID string, w Window, excludeID string) ([]Conflict, error) {
	bookings, err := c.bookings.ListOccupying(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("checking booking conflicts: %w", err)
	}

	var conflicts []Conflict
	for _, b := range bookings {
		if b.ID == excludeID || !b.OccupiesCalendar() {
			continue
		}
		if Overlaps(b.CheckIn, b.CheckOut, w.Start, w.End) {
			conflicts = append(conflicts, newConflict(b.ID, b.GuestName, Window{b.CheckIn, b.CheckOut}, w))
		}
	}

	return conflicts, nil
}

// RateConflicts returns the active seasonal rates of the property
// overlapping w, ignoring excludeID.
func (c *Checker) RateConflicts(ctx context.Context, propertyID string, w Window, excludeID string) ([]Conflict, error) {
	rates, err := c.rates.ListActive(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("checking rate conflicts: %w", err)
	}

	var conflicts []Conflict
	for _, r := range rates {
		if r.ID == excludeID || !r.IsActive {
			continue
		}
		if Overlaps(r.StartDate, r.EndDate, w.Start, w.End) {
			conflicts = append(conflicts, newConflict(r.ID, r.Name, Window{r.StartDate, r.EndDate}, w))
		}
	}

	return conflicts, nil
}

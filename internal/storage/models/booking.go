package models

import (
	"encoding/json"
	"time"
)

// DateLayout is the storage and wire format of calendar dates.
const DateLayout = "2006-01-02"

// Booking is one entry of the booking ledger.
type Booking struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	UserID     string    `json:"user_id"`
	ExternalID *string   `json:"external_id,omitempty"`
	GuestName  string    `json:"guest_name"`
	CheckIn    time.Time `json:"-"`
	CheckOut   time.Time `json:"-"`
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	Notes      string    `json:"notes,omitempty"`
	TotalPrice float64   `json:"total_price"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Booking status constants
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// Booking source constants
const (
	BookingSourceDirect  = "direct"
	BookingSourceAirbnb  = "airbnb"
	BookingSourceBooking = "booking"
	BookingSourceICal    = "ical"
)

// OccupiesCalendar reports whether the booking takes part in the
// non-overlap invariant.
func (b *Booking) OccupiesCalendar() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// IsValidBookingStatus reports whether s is a known status.
func IsValidBookingStatus(s string) bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled:
		return true
	}
	return false
}

// FormatDate renders a calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a calendar date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// MarshalJSON renders the stay as calendar dates.
func (b Booking) MarshalJSON() ([]byte, error) {
	type alias Booking
	return json.Marshal(struct {
		alias
		CheckIn  string `json:"check_in"`
		CheckOut string `json:"check_out"`
	}{alias(b), FormatDate(b.CheckIn), FormatDate(b.CheckOut)})
}

package models

import (
	"encoding/json"
	"time"
)

// SeasonalRate is a per-night price applying to a date window of a property.
type SeasonalRate struct {
	ID            string    `json:"id"`
	PropertyID    string    `json:"property_id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	StartDate     time.Time `json:"-"`
	EndDate       time.Time `json:"-"`
	PricePerNight float64   `json:"price_per_night"`
	MinStay       int       `json:"min_stay"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MarshalJSON renders the window as calendar dates.
func (r SeasonalRate) MarshalJSON() ([]byte, error) {
	type alias SeasonalRate
	return json.Marshal(struct {
		alias
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}{alias(r), FormatDate(r.StartDate), FormatDate(r.EndDate)})
}

// Property is the minimal owner record bookings and integrations hang off.
type Property struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

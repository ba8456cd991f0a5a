// Package availability enforces non-overlapping date windows for bookings
// and seasonal rates.
package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/gestionale-affitti/backend/internal/storage/models"
)

var (
	// ErrConflictWindow is returned when a write would overlap an occupied period.
	ErrConflictWindow = errors.New("period already occupied")
	// ErrInvalidWindow is returned for windows that end on or before their start.
	ErrInvalidWindow = errors.New("end date must be after start date")
	// ErrValidation is returned for malformed input fields.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden is returned when the caller does not own the property.
	ErrForbidden = errors.New("property not owned by caller")
)

// Overlaps reports whether the half-open windows [existingStart, existingEnd)
// and [candidateStart, candidateEnd) intersect. Back-to-back windows do not.
func Overlaps(existingStart, existingEnd, candidateStart, candidateEnd time.Time) bool {
	return candidateStart.Before(existingEnd) && candidateEnd.After(existingStart)
}

// Window is a half-open date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseWindow parses two YYYY-MM-DD dates into a validated window.
func ParseWindow(start, end string) (Window, error) {
	s, err := models.ParseDate(start)
	if err != nil {
		return Window{}, fmt.Errorf("%w: start date %q is not YYYY-MM-DD", ErrValidation, start)
	}
	e, err := models.ParseDate(end)
	if err != nil {
		return Window{}, fmt.Errorf("%w: end date %q is not YYYY-MM-DD", ErrValidation, end)
	}
	w := Window{Start: s, End: e}
	return w, w.Validate()
}

// Validate rejects empty and inverted windows.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("%w: %s..%s", ErrInvalidWindow, models.FormatDate(w.Start), models.FormatDate(w.End))
	}
	return nil
}

// Nights returns the number of nights the window spans.
func (w Window) Nights() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

// Conflict describes one record occupying part of a requested window.
type Conflict struct {
	ConflictingID string `json:"conflicting_id"`
	Label         string `json:"label,omitempty"`
	OverlapStart  string `json:"overlap_start"`
	OverlapEnd    string `json:"overlap_end"`
}

func newConflict(id, label string, existing, candidate Window) Conflict {
	start := candidate.Start
	if existing.Start.After(start) {
		start = existing.Start
	}
	end := candidate.End
	if existing.End.Before(end) {
		end = existing.End
	}
	return Conflict{
		ConflictingID: id,
		Label:         label,
		OverlapStart:  models.FormatDate(start),
		OverlapEnd:    models.FormatDate(end),
	}
}

// ConflictError carries the conflicts behind an ErrConflictWindow.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (%d conflicting)", ErrConflictWindow, len(e.Conflicts))
}

// Is matches ErrConflictWindow.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflictWindow
}

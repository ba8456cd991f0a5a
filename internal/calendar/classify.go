package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// Event kinds
const (
	KindReservation = "reservation"
	KindBlock       = "block"
)

const blockLabel = "Blocked"

var (
	reservationKeywords = []string{"reserved", "booked", "prenotato", "confirmed"}
	blockKeywords       = []string{"not available", "unavailable", "blocked", "closed"}
)

// Classification is the verdict on one remote event.
type Classification struct {
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name"`
	Source      string `json:"source"`
}

// SourceFromUID derives the booking channel from an event UID.
func SourceFromUID(uid string) string {
	uid = strings.ToLower(uid)
	switch {
	case strings.Contains(uid, "airbnb"):
		return models.BookingSourceAirbnb
	case strings.Contains(uid, "booking"):
		return models.BookingSourceBooking
	default:
		return models.BookingSourceICal
	}
}

func channelName(source string) string {
	switch source {
	case models.BookingSourceAirbnb:
		return "Airbnb"
	case models.BookingSourceBooking:
		return "Booking.com"
	default:
		return "iCal"
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Classify decides whether ev is a reservation or a manual block. Rules are
// applied in order and the first match wins; a CONFIRMED status then turns a
// block into a reservation.
func Classify(ev models.RemoteEvent) Classification {
	source := SourceFromUID(ev.UID)
	channelPhrase := "Reservation via " + channelName(source)
	summary := strings.TrimSpace(ev.Summary)
	lower := strings.ToLower(summary)

	c := Classification{Source: source}
	switch {
	case containsAny(lower, reservationKeywords):
		c.Kind, c.DisplayName = KindReservation, channelPhrase
	case containsAny(lower, blockKeywords):
		c.Kind, c.DisplayName = KindBlock, blockLabel
	case summary != "":
		c.Kind, c.DisplayName = KindReservation, summary
	default:
		c.Kind, c.DisplayName = KindBlock, blockLabel
	}

	if c.Kind == KindBlock && strings.EqualFold(strings.TrimSpace(ev.Status), "CONFIRMED") {
		c.Kind, c.DisplayName = KindReservation, channelPhrase
	}

	return c
}

// Notes is the note stored on an imported booking.
func Notes(kind, source string) string {
	return fmt.Sprintf("Imported via iCal feed (%s): %s", source, kind)
}

// Normalizer turns feed instants into check-in/check-out calendar dates.
type Normalizer struct {
	Location    *time.Location
	CheckinHour int
}

// NormalizeDate pins t to the check-in hour in n.Location and returns the
// resulting calendar date at midnight UTC. All-day values keep their own
// year, month and day; timed values are converted into n.Location first.
func (n Normalizer) NormalizeDate(t time.Time, allDay bool) time.Time {
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	if !allDay {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	pinned := time.Date(y, m, d, n.CheckinHour, 0, 0, 0, loc)

	y, m, d = pinned.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Window returns the normalized check-in and check-out of ev. A window
// that collapses to zero nights is widened to one night.
func (n Normalizer) Window(ev models.RemoteEvent) (checkIn, checkOut time.Time) {
	checkIn = n.NormalizeDate(ev.Start, ev.AllDay)
	checkOut = n.NormalizeDate(ev.End, ev.AllDay)
	if !checkOut.After(checkIn) {
		checkOut = checkIn.AddDate(0, 0, 1)
	}
	return checkIn, checkOut
}

// Package calendar imports external iCal feeds into the booking ledger and
// publishes the ledger back out as an iCal feed.
package calendar

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// feedEvent is a parsed VEVENT before recurrence expansion.
type feedEvent struct {
	models.RemoteEvent
	rrule   string
	exDates []time.Time
}

// parseFeed parses an iCal document. Properties between components, which
// some channels emit, are tolerated. A document without a single VEVENT is
// malformed.
func parseFeed(body []byte) ([]feedEvent, error) {
	cal, err := ical.ParseCalendarWithOptions(bytes.NewReader(body),
		ical.WithUnknownPropertyHandler(ical.AcceptUnknownPropertyHandler))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedMalformed, err)
	}

	vevents := cal.Events()
	if len(vevents) == 0 {
		return nil, fmt.Errorf("%w: no events", ErrFeedMalformed)
	}

	events := make([]feedEvent, 0, len(vevents))
	for _, ve := range vevents {
		events = append(events, parseVEvent(ve))
	}

	return events, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func parseVEvent(ve *ical.VEvent) feedEvent {
	var out feedEvent
	out.UID = strings.TrimSpace(propValue(ve, ical.ComponentPropertyUniqueId))
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Status = strings.ToUpper(strings.TrimSpace(propValue(ve, ical.ComponentPropertyStatus)))

	// Missing or unparseable times stay zero; the engine skips those events.
	if start, err := ve.GetStartAt(); err == nil {
		out.Start = start
	}
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if vs, ok := dtStart.ICalParameters[string(ical.ParameterValue)]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
		if !strings.Contains(dtStart.Value, "T") {
			out.AllDay = true
		}
	}

	out.rrule = propValue(ve, ical.ComponentPropertyRrule)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := out.Start.Location()
		if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
			if l, err := time.LoadLocation(tz[0]); err == nil {
				loc = l
			}
		}
		for _, part := range strings.Split(p.Value, ",") {
			t, err := parseICSTime(strings.TrimSpace(part), loc)
			if err != nil {
				appLog.Debug("ignoring exdate", "uid", out.UID, "value", part)
				continue
			}
			out.exDates = append(out.exDates, t)
		}
	}

	return out
}

// parseICSTime parses the basic DATE and DATE-TIME forms used by EXDATE.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, fmt.Errorf("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

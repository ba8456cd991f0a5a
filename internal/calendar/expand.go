package calendar

import (
	"fmt"
	"math"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

const (
	defaultMaxOccurrences = 500
	expandLookback        = 30 * 24 * time.Hour
)

// expandWindow bounds recurrence expansion.
type expandWindow struct {
	Start          time.Time
	End            time.Time
	MaxOccurrences int
}

func newExpandWindow(now time.Time, horizonDays int) expandWindow {
	if horizonDays <= 0 {
		horizonDays = 365
	}
	return expandWindow{
		Start:          now.Add(-expandLookback),
		End:            now.AddDate(0, 0, horizonDays),
		MaxOccurrences: defaultMaxOccurrences,
	}
}

// occurrenceUID keeps every occurrence of a recurring event feed-unique.
func occurrenceUID(uid string, start time.Time) string {
	return fmt.Sprintf("%s#%s", uid, start.Format("20060102"))
}

// expandEvents flattens recurring events into occurrences within w. Events
// without an RRULE pass through unchanged.
func expandEvents(events []feedEvent, w expandWindow) []models.RemoteEvent {
	out := make([]models.RemoteEvent, 0, len(events))
	for _, ev := range events {
		if ev.rrule == "" || ev.Start.IsZero() {
			out = append(out, ev.RemoteEvent)
			continue
		}
		out = append(out, expandRecurring(ev, w)...)
	}
	return out
}

func expandRecurring(ev feedEvent, w expandWindow) []models.RemoteEvent {
	r, err := rrule.StrToRRule(ev.rrule)
	if err != nil {
		appLog.Warn("unparseable RRULE, importing first occurrence only", "uid", ev.UID, "err", err)
		return []models.RemoteEvent{ev.RemoteEvent}
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	loc := ev.Start.Location()
	starts := set.Between(w.Start.In(loc), w.End.In(loc), true)
	if w.MaxOccurrences > 0 && len(starts) > w.MaxOccurrences {
		appLog.Warn("recurring event truncated", "uid", ev.UID, "cap", w.MaxOccurrences, "occurrences", len(starts))
		starts = starts[:w.MaxOccurrences]
	}

	duration := ev.End.Sub(ev.Start)
	nights := int(math.Round(duration.Hours() / 24))
	out := make([]models.RemoteEvent, 0, len(starts))
	for _, start := range starts {
		occ := ev.RemoteEvent
		occ.UID = occurrenceUID(ev.UID, start)
		occ.Start = start
		switch {
		case ev.End.IsZero():
			occ.End = time.Time{}
		case ev.AllDay:
			// calendar days, so DST changes cannot shift the date
			occ.End = start.AddDate(0, 0, nights)
		default:
			occ.End = start.Add(duration)
		}
		out = append(out, occ)
	}
	return out
}

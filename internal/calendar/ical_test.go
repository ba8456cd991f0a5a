package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ics joins lines with CRLF as feeds do on the wire.
func ics(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func vevent(uid, summary, start, end string, extra ...string) []string {
	lines := []string{
		"BEGIN:VEVENT",
		"DTSTAMP:20240501T120000Z",
		"UID:" + uid,
		"DTSTART;VALUE=DATE:" + start,
		"DTEND;VALUE=DATE:" + end,
	}
	if summary != "" {
		lines = append(lines, "SUMMARY:"+summary)
	}
	lines = append(lines, extra...)
	return append(lines, "END:VEVENT")
}

func feed(events ...[]string) string {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//Test//Feed//EN"}
	for _, ev := range events {
		lines = append(lines, ev...)
	}
	lines = append(lines, "END:VCALENDAR")
	return ics(lines...)
}

func TestParseFeed_Lenient(t *testing.T) {
	body := ics(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Airbnb Inc//Hosting Calendar 0.8.8//EN",
		"X-WR-CALNAME:Airbnb",
		"BEGIN:VEVENT",
		"DTSTAMP:20240501T120000Z",
		"DTSTART;VALUE=DATE:20240601",
		"DTEND;VALUE=DATE:20240603",
		"UID:abc123@airbnb.com",
		"SUMMARY:Reserved",
		"STATUS:confirmed",
		"X-AIRBNB-LISTING:42",
		"END:VEVENT",
		"X-STRAY-PROPERTY:between components",
		"BEGIN:VEVENT",
		"DTSTAMP:20240501T120000Z",
		"DTSTART:20240610T140000Z",
		"DTEND:20240612T100000Z",
		"UID:def456@airbnb.com",
		"SUMMARY:Airbnb (Not available)",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	events, err := parseFeed([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "abc123@airbnb.com", first.UID)
	assert.Equal(t, "Reserved", first.Summary)
	assert.Equal(t, "CONFIRMED", first.Status)
	assert.True(t, first.AllDay)
	assert.True(t, first.IsTimed())

	second := events[1]
	assert.False(t, second.AllDay)
	assert.Equal(t, time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC), second.Start.UTC())
}

func TestParseFeed_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":     "",
		"html":      "<html><body>Not found</body></html>",
		"no events": ics("BEGIN:VCALENDAR", "VERSION:2.0", "END:VCALENDAR"),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseFeed([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFeedMalformed))
		})
	}
}

func TestParseFeed_MissingStartIsKept(t *testing.T) {
	body := feed([]string{
		"BEGIN:VEVENT",
		"UID:no-start",
		"SUMMARY:Reserved",
		"END:VEVENT",
	})
	events, err := parseFeed([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Start.IsZero())
	assert.False(t, events[0].IsTimed())
}

func TestExpandEvents_RecurringGetsUniqueIDs(t *testing.T) {
	body := feed(
		vevent("weekly@host", "Closed", "20240601", "20240603",
			"RRULE:FREQ=WEEKLY;COUNT=4", "EXDATE;VALUE=DATE:20240608"),
		vevent("single@host", "Reserved", "20240701", "20240705"),
	)
	parsed, err := parseFeed([]byte(body))
	require.NoError(t, err)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	events := expandEvents(parsed, newExpandWindow(now, 365))

	var uids []string
	for _, ev := range events {
		uids = append(uids, ev.UID)
	}
	assert.Equal(t, []string{
		"weekly@host#20240601",
		"weekly@host#20240615",
		"weekly@host#20240622",
		"single@host",
	}, uids)

	for _, ev := range events[:3] {
		assert.True(t, ev.AllDay)
		assert.Equal(t, 2, int(ev.End.Sub(ev.Start).Hours()/24+0.5))
	}
}

func TestExpandEvents_CapsOccurrences(t *testing.T) {
	body := feed(vevent("daily@host", "Closed", "20240601", "20240602", "RRULE:FREQ=DAILY"))
	parsed, err := parseFeed([]byte(body))
	require.NoError(t, err)

	w := newExpandWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 365)
	w.MaxOccurrences = 10
	assert.Len(t, expandEvents(parsed, w), 10)
}

func TestNormalizeFeedURL(t *testing.T) {
	got, err := normalizeFeedURL(" webcal://example.com/cal.ics?s=secret ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cal.ics?s=secret", got)

	for _, bad := range []string{"", "ftp://example.com/a.ics", "not a url"} {
		_, err := normalizeFeedURL(bad)
		assert.True(t, errors.Is(err, ErrValidation), bad)
	}
}

func TestFetcher_ConditionalGetReusesCache(t *testing.T) {
	body := feed(vevent("a@airbnb.com", "Reserved", "20240601", "20240603"))
	var hits, notModified atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{Timeout: 5 * time.Second})
	ctx := context.Background()

	first, err := f.Fetch(ctx, srv.URL+"/cal.ics")
	require.NoError(t, err)
	second, err := f.Fetch(ctx, srv.URL+"/cal.ics")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
}

func TestFetcher_ErrorsFallBackToCache(t *testing.T) {
	body := feed(vevent("a@airbnb.com", "Reserved", "20240601", "20240603"))
	var fail atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{Timeout: 5 * time.Second})
	ctx := context.Background()

	_, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)

	fail.Store(true)
	got, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	_, err = f.Fetch(ctx, srv.URL+"/never-seen")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFeedUnreachable))
}

func TestFetcher_ClosedServerIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/cal.ics"
	srv.Close()

	f := NewFetcher(FetcherConfig{Timeout: 2 * time.Second})
	_, err := f.FetchAndParse(context.Background(), url)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFeedUnreachable))
	assert.NotContains(t, err.Error(), "/cal.ics")
}

func TestFetcher_FetchAndParseExpands(t *testing.T) {
	body := feed(vevent("r@host", "Closed", "20240601", "20240602", "RRULE:FREQ=WEEKLY;COUNT=2"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{
		Now: func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	events, err := f.FetchAndParse(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].UID, events[1].UID)
}

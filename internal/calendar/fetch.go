package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

const maxFeedBytes = 10 << 20

// cacheEntry holds HTTP cache metadata and the last body of one feed URL.
type cacheEntry struct {
	ETag         string
	LastModified string
	Body         []byte
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout     time.Duration
	CacheTTL    time.Duration
	HorizonDays int
	Client      *http.Client
	Now         func() time.Time
}

// Fetcher retrieves iCal feeds, honoring ETag and Last-Modified, and
// normalizes them into remote events.
type Fetcher struct {
	client      *http.Client
	cache       *cache.Cache
	horizonDays int
	now         func() time.Time
}

// NewFetcher creates a new feed fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Fetcher{
		client:      client,
		cache:       cache.New(cfg.CacheTTL, cfg.CacheTTL/2),
		horizonDays: cfg.HorizonDays,
		now:         now,
	}
}

// normalizeFeedURL maps webcal:// onto https:// and rejects other schemes.
func normalizeFeedURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid feed URL", ErrValidation)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "webcal":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("%w: unsupported feed URL scheme %q", ErrValidation, u.Scheme)
	}
	return u.String(), nil
}

// Fetch returns the feed body. A 304 reuses the cached body; network errors
// and non-2xx responses fall back to it when present.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	feedURL, err := normalizeFeedURL(rawURL)
	if err != nil {
		return nil, err
	}
	redacted := appLog.RedactURL(feedURL)

	var cached *cacheEntry
	if v, ok := f.cache.Get(feedURL); ok {
		cached = v.(*cacheEntry)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	appLog.Debug("feed fetch start", "url", redacted)

	resp, err := f.client.Do(req)
	if err != nil {
		// url.Error repeats the full URL, which may embed a secret
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		if cached != nil && ctx.Err() == nil {
			appLog.Error("feed fetch failed, using cached body", err, "url", redacted)
			return cached.Body, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrFeedUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		appLog.Debug("feed not modified, using cache", "url", redacted)
		return cached.Body, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: reading body: %v", ErrFeedUnreachable, err)
		}
		f.cache.SetDefault(feedURL, &cacheEntry{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			Body:         body,
		})
		appLog.Debug("feed fetch success", "url", redacted, "status", resp.StatusCode, "bytes", len(body))
		return body, nil

	default:
		if cached != nil {
			appLog.Warn("feed returned non-OK status, using cached body", "url", redacted, "status", resp.StatusCode)
			return cached.Body, nil
		}
		return nil, fmt.Errorf("%w: status %s", ErrFeedUnreachable, resp.Status)
	}
}

// FetchAndParse fetches a feed and returns its events, with recurring events
// expanded around the current time.
func (f *Fetcher) FetchAndParse(ctx context.Context, rawURL string) ([]models.RemoteEvent, error) {
	body, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	parsed, err := parseFeed(body)
	if err != nil {
		appLog.Warn("feed parse failed", "url", appLog.RedactURL(rawURL), "err", err)
		return nil, err
	}

	events := expandEvents(parsed, newExpandWindow(f.now(), f.horizonDays))
	appLog.Debug("feed parsed", "url", appLog.RedactURL(rawURL), "vevents", len(parsed), "events", len(events))
	return events, nil
}

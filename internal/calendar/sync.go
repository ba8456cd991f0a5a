package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage"
	"github.com/gestionale-affitti/backend/internal/storage/models"
	"github.com/gestionale-affitti/backend/internal/websocket"
)

// FeedSource yields the normalized events of a feed URL.
type FeedSource interface {
	FetchAndParse(ctx context.Context, url string) ([]models.RemoteEvent, error)
}

// SyncOptions configures a SyncService.
type SyncOptions struct {
	Location    *time.Location
	CheckinHour int
	BulkWorkers int
	Broadcaster *websocket.EventBroadcaster
}

// SyncService reconciles feed integrations into the booking ledger.
type SyncService struct {
	db           *storage.DB
	properties   *storage.PropertyRepository
	integrations *storage.IntegrationRepository
	bookings     *storage.BookingRepository
	source       FeedSource
	normalizer   Normalizer
	workers      int
	broadcaster  *websocket.EventBroadcaster
	inflight     singleflight.Group
	now          func() time.Time
}

// NewSyncService creates a new calendar sync service.
func NewSyncService(db *storage.DB, source FeedSource, opts SyncOptions) *SyncService {
	if opts.BulkWorkers <= 0 {
		opts.BulkWorkers = 5
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &SyncService{
		db:           db,
		properties:   storage.NewPropertyRepository(db),
		integrations: storage.NewIntegrationRepository(db),
		bookings:     storage.NewBookingRepository(db),
		source:       source,
		normalizer:   Normalizer{Location: opts.Location, CheckinHour: opts.CheckinHour},
		workers:      opts.BulkWorkers,
		broadcaster:  opts.Broadcaster,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile imports the feed at feedURL into the property's bookings inside
// one transaction. Any failure rolls back the whole batch and is returned
// as a *SyncError.
func (s *SyncService) Reconcile(ctx context.Context, userID, propertyID, feedURL string) (*models.SyncResult, error) {
	events, err := s.source.FetchAndParse(ctx, feedURL)
	if err != nil {
		return nil, &SyncError{PropertyID: propertyID, Err: err}
	}

	result := &models.SyncResult{
		PropertyID:  propertyID,
		TotalEvents: len(events),
		SyncedAt:    s.now(),
	}

	err = s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		bookings := s.bookings.WithTx(tx)
		for _, ev := range events {
			if !ev.IsTimed() {
				result.SkippedEvents++
				continue
			}
			created, err := s.upsertEvent(ctx, bookings, userID, propertyID, ev)
			if err != nil {
				return fmt.Errorf("event %s: %w", ev.UID, err)
			}
			if created {
				result.NewEvents++
			} else {
				result.UpdatedEvents++
			}
		}
		return nil
	})
	if err != nil {
		return nil, &SyncError{PropertyID: propertyID, Err: err}
	}

	return result, nil
}

// upsertEvent writes one remote event and reports whether it was new.
func (s *SyncService) upsertEvent(ctx context.Context, bookings *storage.BookingRepository, userID, propertyID string, ev models.RemoteEvent) (bool, error) {
	c := Classify(ev)
	checkIn, checkOut := s.normalizer.Window(ev)

	existing, err := bookings.GetByExternalID(ctx, propertyID, ev.UID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		existing.GuestName = c.DisplayName
		existing.CheckIn = checkIn
		existing.CheckOut = checkOut
		existing.Source = c.Source
		existing.Notes = Notes(c.Kind, c.Source)
		existing.Status = models.BookingStatusConfirmed
		return false, bookings.Update(ctx, existing)
	}

	uid := ev.UID
	b := &models.Booking{
		PropertyID: propertyID,
		UserID:     userID,
		ExternalID: &uid,
		GuestName:  c.DisplayName,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Status:     models.BookingStatusConfirmed,
		Source:     c.Source,
		Notes:      Notes(c.Kind, c.Source),
		TotalPrice: 0,
	}
	return true, bookings.Create(ctx, b)
}

// runIntegration performs one bookkept pass for a feed integration. Passes
// for the same integration that overlap in time share one execution.
func (s *SyncService) runIntegration(ctx context.Context, in models.Integration) (*models.SyncResult, error) {
	v, err, shared := s.inflight.Do(in.ID, func() (any, error) {
		// The pass is shared by every caller waiting on this key, so it must
		// not die with whichever caller happened to start it.
		bg := context.WithoutCancel(ctx)

		if err := s.integrations.MarkSyncStarted(bg, in.ID, s.now()); err != nil {
			appLog.Warn("stamping last sync failed", "integration", in.ID, "err", err)
		}

		result, err := s.Reconcile(bg, in.UserID, in.PropertyID, in.URL)
		if err != nil {
			var se *SyncError
			if errors.As(err, &se) {
				se.IntegrationID = in.ID
			}
			if rerr := s.integrations.RecordSyncError(bg, in.ID, err.Error(), s.now()); rerr != nil {
				appLog.Error("recording sync error failed", rerr, "integration", in.ID)
			}
			appLog.Warn("integration sync failed", "integration", in.ID, "property", in.PropertyID, "err", err)
			s.broadcaster.BroadcastSyncError(in, err)
			return nil, err
		}

		result.IntegrationID = in.ID
		if err := s.integrations.ClearSyncError(bg, in.ID); err != nil {
			appLog.Warn("clearing sync error failed", "integration", in.ID, "err", err)
		}
		appLog.Info("integration synced", "integration", in.ID, "property", in.PropertyID,
			"total", result.TotalEvents, "new", result.NewEvents,
			"updated", result.UpdatedEvents, "skipped", result.SkippedEvents)
		s.broadcaster.BroadcastSyncCompleted(in, *result)
		return result, nil
	})
	if shared {
		appLog.Debug("sync joined an in-flight pass", "integration", in.ID)
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.SyncResult), nil
}

// SyncIntegration runs one pass for an integration owned by userID and
// returns its outcome.
func (s *SyncService) SyncIntegration(ctx context.Context, userID, integrationID string) (*models.SyncResult, error) {
	in, err := s.ownedIntegration(ctx, userID, integrationID)
	if err != nil {
		return nil, err
	}
	if in.Kind != models.IntegrationKindFeed {
		return nil, fmt.Errorf("%w: %s integrations are not synced", ErrValidation, in.Kind)
	}
	return s.runIntegration(ctx, *in)
}

// BulkItem is the outcome of one integration within a bulk sync.
type BulkItem struct {
	IntegrationID string             `json:"integration_id"`
	PropertyID    string             `json:"property_id"`
	Result        *models.SyncResult `json:"result,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// BulkResult aggregates a bulk sync.
type BulkResult struct {
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Results   []BulkItem `json:"results"`
}

// SyncAll syncs every active feed integration of userID, or of every user
// when userID is empty, on a fixed-size worker pool. Individual failures are
// counted and recorded, never returned.
func (s *SyncService) SyncAll(ctx context.Context, userID string) (*BulkResult, error) {
	feeds, err := s.integrations.ListActiveFeeds(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing active feeds: %w", err)
	}

	type job struct {
		idx int
		in  models.Integration
	}
	jobs := make(chan job)
	items := make([]BulkItem, len(feeds))

	workers := s.workers
	if workers > len(feeds) {
		workers = len(feeds)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				item := BulkItem{IntegrationID: j.in.ID, PropertyID: j.in.PropertyID}
				result, err := s.runIntegration(ctx, j.in)
				if err != nil {
					item.Error = err.Error()
				} else {
					item.Result = result
				}
				items[j.idx] = item
			}
		}()
	}

	for i, in := range feeds {
		jobs <- job{idx: i, in: in}
	}
	close(jobs)
	wg.Wait()

	res := &BulkResult{Total: len(feeds), Results: items}
	for _, item := range items {
		if item.Error != "" {
			res.Failed++
		} else {
			res.Completed++
		}
	}

	appLog.Info("bulk sync finished", "user", userID, "total", res.Total,
		"completed", res.Completed, "failed", res.Failed)
	s.broadcaster.BroadcastBulkCompleted(userID, res.Total, res.Completed, res.Failed)
	return res, nil
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestionale-affitti/backend/internal/storage"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// stubSource serves canned events per URL and tracks concurrent calls.
type stubSource struct {
	mu     sync.Mutex
	feeds  map[string][]models.RemoteEvent
	errs   map[string]error
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
	calls  atomic.Int32
}

func newStubSource() *stubSource {
	return &stubSource{
		feeds: make(map[string][]models.RemoteEvent),
		errs:  make(map[string]error),
	}
}

func (s *stubSource) set(url string, events ...models.RemoteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[url] = events
}

func (s *stubSource) fail(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[url] = err
}

func (s *stubSource) FetchAndParse(ctx context.Context, url string) ([]models.RemoteEvent, error) {
	s.calls.Add(1)
	cur := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if cur <= p || s.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	return s.feeds[url], nil
}

func allDay(uid, summary, start, end string) models.RemoteEvent {
	return models.RemoteEvent{
		UID:     uid,
		Summary: summary,
		Start:   mustDate(start),
		End:     mustDate(end),
		AllDay:  true,
	}
}

func mustDate(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

type syncFixture struct {
	db     *storage.DB
	src    *stubSource
	svc    *SyncService
	props  *storage.PropertyRepository
	ints   *storage.IntegrationRepository
	books  *storage.BookingRepository
	userID string
}

func newSyncFixture(t *testing.T, workers int) *syncFixture {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	require.NoError(t, storage.RunMigrations(db))
	t.Cleanup(func() { db.Close() })

	src := newStubSource()
	return &syncFixture{
		db:     db,
		src:    src,
		svc:    NewSyncService(db, src, SyncOptions{Location: time.UTC, CheckinHour: 18, BulkWorkers: workers}),
		props:  storage.NewPropertyRepository(db),
		ints:   storage.NewIntegrationRepository(db),
		books:  storage.NewBookingRepository(db),
		userID: "user-1",
	}
}

func (f *syncFixture) property(t *testing.T, userID string) *models.Property {
	t.Helper()
	p := &models.Property{UserID: userID, Name: "Villa"}
	require.NoError(t, f.props.Create(context.Background(), p))
	return p
}

// feedIntegration stores a feed integration without validating it.
func (f *syncFixture) feedIntegration(t *testing.T, userID, url string) *models.Integration {
	t.Helper()
	p := f.property(t, userID)
	in := &models.Integration{
		UserID: userID, PropertyID: p.ID, Kind: models.IntegrationKindFeed, URL: url,
		Feed: &models.FeedConfig{DisplayName: url}, Active: true,
	}
	require.NoError(t, f.ints.Create(context.Background(), in))
	return in
}

func TestReconcile_NewAndUpdatedEvents(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, 2)
	p := f.property(t, f.userID)

	f.src.set("https://feed", allDay("dup@airbnb.com", "Airbnb (Not available)", "2024-06-10", "2024-06-12"))
	first, err := f.svc.Reconcile(ctx, f.userID, p.ID, "https://feed")
	require.NoError(t, err)
	assert.Equal(t, 1, first.NewEvents)

	original, err := f.books.GetByExternalID(ctx, p.ID, "dup@airbnb.com")
	require.NoError(t, err)
	require.NotNil(t, original)

	f.src.set("https://feed",
		allDay("res@airbnb.com", "Reserved", "2024-06-01", "2024-06-04"),
		allDay("blk@airbnb.com", "Not available", "2024-06-20", "2024-06-22"),
		allDay("dup@airbnb.com", "Airbnb (Not available)", "2024-06-10", "2024-06-14"),
	)
	res, err := f.svc.Reconcile(ctx, f.userID, p.ID, "https://feed")
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalEvents)
	assert.Equal(t, 2, res.NewEvents)
	assert.Equal(t, 1, res.UpdatedEvents)
	assert.Equal(t, 0, res.SkippedEvents)

	dup, err := f.books.GetByExternalID(ctx, p.ID, "dup@airbnb.com")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, original.ID, dup.ID)
	assert.Equal(t, "2024-06-14", models.FormatDate(dup.CheckOut))
	assert.Equal(t, models.BookingStatusConfirmed, dup.Status)
	assert.Equal(t, "Blocked", dup.GuestName)

	res1, err := f.books.GetByExternalID(ctx, p.ID, "res@airbnb.com")
	require.NoError(t, err)
	require.NotNil(t, res1)
	assert.Equal(t, "Reservation via Airbnb", res1.GuestName)
	assert.Equal(t, models.BookingSourceAirbnb, res1.Source)
	assert.Equal(t, "Imported via iCal feed (airbnb): reservation", res1.Notes)
	assert.Zero(t, res1.TotalPrice)

	n, err := f.books.Count(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, 2)
	p := f.property(t, f.userID)

	f.src.set("https://feed",
		allDay("a@host", "Reserved", "2024-06-01", "2024-06-04"),
		allDay("b@host", "", "2024-06-05", "2024-06-06"),
		models.RemoteEvent{UID: "undated@host", Summary: "Reserved"},
	)

	first, err := f.svc.Reconcile(ctx, f.userID, p.ID, "https://feed")
	require.NoError(t, err)
	assert.Equal(t, 3, first.TotalEvents)
	assert.Equal(t, 2, first.NewEvents)
	assert.Equal(t, 1, first.SkippedEvents)

	second, err := f.svc.Reconcile(ctx, f.userID, p.ID, "https://feed")
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewEvents)
	assert.Equal(t, 2, second.UpdatedEvents)

	n, err := f.books.Count(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReconcile_FeedErrorIsSyncError(t *testing.T) {
	f := newSyncFixture(t, 2)
	p := f.property(t, f.userID)
	f.src.fail("https://down", fmt.Errorf("%w: connection refused", ErrFeedUnreachable))

	_, err := f.svc.Reconcile(context.Background(), f.userID, p.ID, "https://down")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyncFailed))
	assert.True(t, errors.Is(err, ErrFeedUnreachable))

	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, p.ID, se.PropertyID)
}

func TestReconcile_RollsBackOnWriteError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	src := newStubSource()
	src.set("https://feed",
		allDay("a@host", "Reserved", "2024-06-01", "2024-06-03"),
		allDay("b@host", "Reserved", "2024-06-05", "2024-06-07"),
	)
	svc := NewSyncService(storage.WrapDB(sqlDB), src, SyncOptions{})

	columns := []string{"id", "property_id", "user_id", "external_id", "guest_name", "check_in", "check_out",
		"status", "source", "notes", "total_price", "created_at", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery("FROM bookings WHERE property_id").WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectExec("INSERT INTO bookings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM bookings WHERE property_id").WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectExec("INSERT INTO bookings").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = svc.Reconcile(context.Background(), "user-1", "prop-1", "https://feed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyncFailed))
	assert.Contains(t, err.Error(), "b@host")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncIntegration(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, 2)
	in := f.feedIntegration(t, f.userID, "https://feed")
	f.src.set("https://feed", allDay("a@host", "Reserved", "2024-06-01", "2024-06-03"))

	res, err := f.svc.SyncIntegration(ctx, f.userID, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.ID, res.IntegrationID)
	assert.Equal(t, 1, res.NewEvents)

	got, err := f.ints.GetByID(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.Nil(t, got.LastError)

	_, err = f.svc.SyncIntegration(ctx, "user-2", in.ID)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = f.svc.SyncIntegration(ctx, f.userID, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	export, err := f.ints.UpsertExport(ctx, f.userID, in.PropertyID, "tok")
	require.NoError(t, err)
	_, err = f.svc.SyncIntegration(ctx, f.userID, export.ID)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestSyncIntegration_PassOutlivesStartingCaller(t *testing.T) {
	f := newSyncFixture(t, 2)
	in := f.feedIntegration(t, f.userID, "https://slow")
	f.src.set("https://slow", allDay("a@host", "Reserved", "2024-06-01", "2024-06-03"))
	f.src.delay = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.SyncIntegration(ctx, f.userID, in.ID)
		first <- err
	}()
	require.Eventually(t, func() bool { return f.src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the starter leaves while a second caller is waiting on the same pass
	second := make(chan error, 1)
	go func() {
		_, err := f.svc.SyncIntegration(context.Background(), f.userID, in.ID)
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, <-second)
	require.NoError(t, <-first)

	got, err := f.ints.GetByID(context.Background(), in.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
	bookings, err := f.books.ListByProperty(context.Background(), in.PropertyID)
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestSyncIntegration_FailureRecordsLastError(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, 2)
	in := f.feedIntegration(t, f.userID, "https://bad")
	f.src.fail("https://bad", fmt.Errorf("%w: no events", ErrFeedMalformed))

	_, err := f.svc.SyncIntegration(ctx, f.userID, in.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSyncFailed))
	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, in.ID, se.IntegrationID)

	got, err := f.ints.GetByID(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastError)
	assert.Contains(t, got.LastError.Message, "feed malformed")

	// a later success clears the snapshot
	f.src.mu.Lock()
	delete(f.src.errs, "https://bad")
	f.src.mu.Unlock()
	f.src.set("https://bad", allDay("a@host", "Reserved", "2024-06-01", "2024-06-03"))

	_, err = f.svc.SyncIntegration(ctx, f.userID, in.ID)
	require.NoError(t, err)
	got, err = f.ints.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)
}

func TestScheduler_SweepIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, 2)

	var failing *models.Integration
	for i := 0; i < 5; i++ {
		url := fmt.Sprintf("https://feed-%d", i)
		in := f.feedIntegration(t, fmt.Sprintf("user-%d", i%2), url)
		if i == 2 {
			failing = in
			f.src.fail(url, fmt.Errorf("%w: dial tcp: no such host", ErrFeedUnreachable))
			continue
		}
		f.src.set(url, allDay(fmt.Sprintf("evt-%d@host", i), "Reserved", "2024-06-01", "2024-06-03"))
	}

	sched := NewScheduler(f.svc, "@hourly", time.UTC, nil)
	res := sched.RunSweep(ctx)
	assert.Equal(t, SweepResult{Total: 5, Succeeded: 4, Failed: 1}, res)
	assert.Equal(t, int32(1), f.src.peak.Load())

	all, err := f.ints.ListActiveFeeds(ctx, "")
	require.NoError(t, err)
	for _, in := range all {
		require.NotNil(t, in.LastSyncAt, in.ID)
		if in.ID == failing.ID {
			require.NotNil(t, in.LastError)
			assert.Contains(t, in.LastError.Message, "feed unreachable")
			continue
		}
		assert.Nil(t, in.LastError, in.ID)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	f := newSyncFixture(t, 2)
	sched := NewScheduler(f.svc, "@every 1h", time.UTC, nil)
	assert.Nil(t, sched.NextRun())

	require.NoError(t, sched.Start(context.Background()))
	next := sched.NextRun()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now()))

	sched.Stop()
	assert.Nil(t, sched.NextRun())
	assert.NotPanics(t, sched.Stop)

	// restarting keeps a single sweep job
	require.NoError(t, sched.Start(context.Background()))
	assert.Len(t, sched.cron.Entries(), 1)
	require.NotNil(t, sched.NextRun())
	sched.Stop()
	assert.Empty(t, sched.cron.Entries())

	bad := NewScheduler(f.svc, "every now and then", time.UTC, nil)
	assert.Error(t, bad.Start(context.Background()))
}

func TestSyncAll_BoundedAndNonShortCircuiting(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, 2)
	f.src.delay = 20 * time.Millisecond

	var ids []string
	for i := 0; i < 6; i++ {
		url := fmt.Sprintf("https://bulk-%d", i)
		in := f.feedIntegration(t, f.userID, url)
		ids = append(ids, in.ID)
		if i == 4 {
			f.src.fail(url, fmt.Errorf("%w: status 500", ErrFeedUnreachable))
			continue
		}
		f.src.set(url, allDay(fmt.Sprintf("bulk-%d@host", i), "Reserved", "2024-06-01", "2024-06-03"))
	}
	other := f.feedIntegration(t, "user-2", "https://other")
	f.src.set("https://other", allDay("other@host", "Reserved", "2024-06-01", "2024-06-03"))

	res, err := f.svc.SyncAll(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, 5, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.LessOrEqual(t, f.src.peak.Load(), int32(2))
	require.Len(t, res.Results, 6)

	failed := 0
	for _, item := range res.Results {
		assert.Contains(t, ids, item.IntegrationID)
		if item.Error != "" {
			failed++
			assert.Nil(t, item.Result)
			got, err := f.ints.GetByID(ctx, item.IntegrationID)
			require.NoError(t, err)
			assert.NotNil(t, got.LastError)
		}
	}
	assert.Equal(t, 1, failed)

	untouched, err := f.ints.GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Nil(t, untouched.LastSyncAt)
}

func TestRegisterFeed(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, 2)
	p := f.property(t, f.userID)

	f.src.fail("https://broken", fmt.Errorf("%w: no events", ErrFeedMalformed))
	_, err := f.svc.RegisterFeed(ctx, f.userID, p.ID, FeedInput{URL: "https://broken"})
	assert.True(t, errors.Is(err, ErrFeedMalformed))
	list, err := f.svc.ListPropertyIntegrations(ctx, f.userID, p.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	f.src.set("https://ok", allDay("a@host", "Reserved", "2024-06-01", "2024-06-03"))
	in, err := f.svc.RegisterFeed(ctx, f.userID, p.ID, FeedInput{URL: " https://ok ", DisplayName: "Airbnb"})
	require.NoError(t, err)
	assert.Equal(t, "https://ok", in.URL)
	assert.Equal(t, "Airbnb", in.DisplayName())
	assert.True(t, in.Active)

	_, err = f.svc.RegisterFeed(ctx, f.userID, p.ID, FeedInput{URL: "https://ok"})
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists))

	_, err = f.svc.RegisterFeed(ctx, "user-2", p.ID, FeedInput{URL: "https://ok"})
	assert.True(t, errors.Is(err, ErrUnauthorized))

	// an empty URL is rejected before the duplicate and ownership lookups
	_, err = f.svc.RegisterFeed(ctx, f.userID, p.ID, FeedInput{})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = f.svc.RegisterFeed(ctx, "user-2", p.ID, FeedInput{URL: "   "})
	assert.True(t, errors.Is(err, ErrValidation))

	// a usable URL on a property that already has a feed is a duplicate,
	// checked before the feed is fetched again
	calls := f.src.calls.Load()
	_, err = f.svc.RegisterFeed(ctx, f.userID, p.ID, FeedInput{URL: "https://broken"})
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists))
	assert.Equal(t, calls, f.src.calls.Load())

	fresh := f.property(t, f.userID)
	_, err = f.svc.RegisterFeed(ctx, f.userID, fresh.ID, FeedInput{})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestUpdateFeed_RevalidatesChangedURL(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t, 2)
	in := f.feedIntegration(t, f.userID, "https://old")

	f.src.fail("https://new-broken", fmt.Errorf("%w: status 404", ErrFeedUnreachable))
	_, err := f.svc.UpdateFeed(ctx, f.userID, in.ID, FeedInput{URL: "https://new-broken"})
	assert.True(t, errors.Is(err, ErrFeedUnreachable))

	inactive := false
	updated, err := f.svc.UpdateFeed(ctx, f.userID, in.ID, FeedInput{DisplayName: "Booking.com", Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "https://old", updated.URL)
	assert.False(t, updated.Active)
	assert.Equal(t, int32(1), f.src.calls.Load())

	feeds, err := f.ints.ListActiveFeeds(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, feeds)

	require.NoError(t, f.svc.DeleteIntegration(ctx, f.userID, in.ID))
	assert.True(t, errors.Is(f.svc.DeleteIntegration(ctx, f.userID, in.ID), storage.ErrNotFound))
}

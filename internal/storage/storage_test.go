package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestionale-affitti/backend/internal/storage/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func seedProperty(t *testing.T, db *DB, userID string) *models.Property {
	t.Helper()
	p := &models.Property{UserID: userID, Name: "Casa Mare"}
	require.NoError(t, NewPropertyRepository(db).Create(context.Background(), p))
	return p
}

func date(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, RunMigrations(db))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestIntegrationRepository_CreateRejectsSecondFeed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedProperty(t, db, "user-1")
	repo := NewIntegrationRepository(db)

	first := &models.Integration{
		UserID: "user-1", PropertyID: p.ID, Kind: models.IntegrationKindFeed,
		URL: "https://example.com/a.ics", Feed: &models.FeedConfig{DisplayName: "Airbnb"}, Active: true,
	}
	require.NoError(t, repo.Create(ctx, first))

	second := &models.Integration{
		UserID: "user-1", PropertyID: p.ID, Kind: models.IntegrationKindFeed,
		URL: "https://example.com/b.ics", Active: true,
	}
	err := repo.Create(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Airbnb", got.DisplayName())
	assert.Nil(t, got.LastError)
}

func TestIntegrationRepository_SyncBookkeeping(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedProperty(t, db, "user-1")
	repo := NewIntegrationRepository(db)

	in := &models.Integration{
		UserID: "user-1", PropertyID: p.ID, Kind: models.IntegrationKindFeed,
		URL: "https://example.com/a.ics", Active: true,
	}
	require.NoError(t, repo.Create(ctx, in))

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkSyncStarted(ctx, in.ID, at))
	require.NoError(t, repo.RecordSyncError(ctx, in.ID, "feed unreachable", at))

	got, err := repo.GetByID(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, got.LastSyncAt.Equal(at))
	require.NotNil(t, got.LastError)
	assert.Equal(t, "feed unreachable", got.LastError.Message)
	assert.True(t, got.LastError.At.Equal(at))

	require.NoError(t, repo.ClearSyncError(ctx, in.ID))
	got, err = repo.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastError)

	feeds, err := repo.ListActiveFeeds(ctx, "")
	require.NoError(t, err)
	assert.Len(t, feeds, 1)

	feeds, err = repo.ListActiveFeeds(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestIntegrationRepository_UpsertExportRotatesToken(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedProperty(t, db, "user-1")
	repo := NewIntegrationRepository(db)

	first, err := repo.UpsertExport(ctx, "user-1", p.ID, "token-a")
	require.NoError(t, err)
	require.NotNil(t, first.Export)
	assert.Equal(t, "token-a", first.Export.Token)

	second, err := repo.UpsertExport(ctx, "user-1", p.ID, "token-b")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "token-b", second.Export.Token)

	all, err := repo.ListByProperty(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBookingRepository_ExternalIDLookupAndUpdate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedProperty(t, db, "user-1")
	repo := NewBookingRepository(db)

	ext := "abc@airbnb.com"
	b := &models.Booking{
		PropertyID: p.ID, UserID: "user-1", ExternalID: &ext, GuestName: "Reservation via Airbnb",
		CheckIn: date("2024-06-01"), CheckOut: date("2024-06-03"),
		Status: models.BookingStatusConfirmed, Source: models.BookingSourceAirbnb,
	}
	require.NoError(t, repo.Create(ctx, b))

	dup := *b
	err := repo.Create(ctx, &dup)
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	got, err := repo.GetByExternalID(ctx, p.ID, ext)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "2024-06-03", models.FormatDate(got.CheckOut))

	got.CheckOut = date("2024-06-05")
	require.NoError(t, repo.Update(ctx, got))

	again, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-05", models.FormatDate(again.CheckOut))

	missing, err := repo.GetByExternalID(ctx, p.ID, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBookingRepository_StatusFilters(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedProperty(t, db, "user-1")
	repo := NewBookingRepository(db)

	for i, status := range []string{
		models.BookingStatusPending, models.BookingStatusConfirmed, models.BookingStatusCancelled,
	} {
		start := date("2024-07-01").AddDate(0, 0, i*3)
		require.NoError(t, repo.Create(ctx, &models.Booking{
			PropertyID: p.ID, UserID: "user-1", GuestName: status,
			CheckIn: start, CheckOut: start.AddDate(0, 0, 2),
			Status: status, Source: models.BookingSourceDirect,
		}))
	}

	occupying, err := repo.ListOccupying(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, occupying, 2)

	exported, err := repo.ListForExport(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, exported, 2)

	n, err := repo.Count(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSeasonalRateRepository_ListActive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	p := seedProperty(t, db, "user-1")
	repo := NewSeasonalRateRepository(db)

	summer := &models.SeasonalRate{
		PropertyID: p.ID, UserID: "user-1", Name: "Summer",
		StartDate: date("2024-06-01"), EndDate: date("2024-09-01"),
		PricePerNight: 120, MinStay: 3, IsActive: true,
	}
	off := &models.SeasonalRate{
		PropertyID: p.ID, UserID: "user-1", Name: "Old summer",
		StartDate: date("2024-06-01"), EndDate: date("2024-09-01"),
		PricePerNight: 100, MinStay: 2, IsActive: false,
	}
	require.NoError(t, repo.Create(ctx, summer))
	require.NoError(t, repo.Create(ctx, off))

	active, err := repo.ListActive(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, summer.ID, active[0].ID)
	assert.Equal(t, "2024-09-01", models.FormatDate(active[0].EndDate))

	err = repo.Delete(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

package calendar

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

const tokenBytes = 32

// ExportService issues export tokens and renders a property's bookings as
// a public iCal feed.
type ExportService struct {
	properties   *storage.PropertyRepository
	integrations *storage.IntegrationRepository
	bookings     *storage.BookingRepository
	hostID       string
	now          func() time.Time
}

// NewExportService creates a new export service. hostID is the domain part
// of every exported UID.
func NewExportService(db *storage.DB, hostID string) *ExportService {
	if hostID == "" {
		hostID = "gestionale-affitti"
	}
	return &ExportService{
		properties:   storage.NewPropertyRepository(db),
		integrations: storage.NewIntegrationRepository(db),
		bookings:     storage.NewBookingRepository(db),
		hostID:       hostID,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IssueToken creates or rotates the export token of a property owned by
// userID. The previous token stops working immediately.
func (s *ExportService) IssueToken(ctx context.Context, userID, propertyID string) (string, error) {
	p, err := s.properties.GetByID(ctx, propertyID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", fmt.Errorf("property %s: %w", propertyID, storage.ErrNotFound)
	}
	if p.UserID != userID {
		return "", fmt.Errorf("property %s: %w", propertyID, ErrUnauthorized)
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if _, err := s.integrations.UpsertExport(ctx, userID, propertyID, token); err != nil {
		return "", err
	}

	appLog.Info("export token issued", "property", propertyID)
	return token, nil
}

// authorize returns the property when token matches its export integration.
func (s *ExportService) authorize(ctx context.Context, propertyID, token string) (*models.Property, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	in, err := s.integrations.GetByPropertyKind(ctx, propertyID, models.IntegrationKindExport)
	if err != nil {
		return nil, err
	}
	if in == nil || !in.Active || in.Export == nil || in.Export.Token == "" {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(in.Export.Token), []byte(token)) != 1 {
		return nil, ErrUnauthorized
	}

	p, err := s.properties.GetByID(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrUnauthorized
	}
	return p, nil
}

// BuildFeed renders every non-cancelled booking of the property as an
// all-day event. A missing or wrong token yields ErrUnauthorized.
func (s *ExportService) BuildFeed(ctx context.Context, propertyID, token string) ([]byte, error) {
	p, err := s.authorize(ctx, propertyID, token)
	if err != nil {
		return nil, err
	}

	bookings, err := s.bookings.ListForExport(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("listing bookings for export: %w", err)
	}

	cal := ical.NewCalendarFor(s.hostID)
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(p.Name)

	stamp := s.now()
	for _, b := range bookings {
		ev := cal.AddEvent(fmt.Sprintf("%s@%s", b.ID, s.hostID))
		ev.SetDtStampTime(stamp)
		ev.SetAllDayStartAt(b.CheckIn)
		ev.SetAllDayEndAt(b.CheckOut)
		ev.SetSummary(b.GuestName)
		if b.Status == models.BookingStatusConfirmed {
			ev.SetStatus(ical.ObjectStatusConfirmed)
		} else {
			ev.SetStatus(ical.ObjectStatusTentative)
		}
	}

	appLog.Debug("export feed built", "property", propertyID, "events", len(bookings))
	return []byte(cal.Serialize()), nil
}

package calendar

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedUnreachable is returned when a feed cannot be retrieved.
	ErrFeedUnreachable = errors.New("feed unreachable")
	// ErrFeedMalformed is returned when a feed is not a calendar or holds no events.
	ErrFeedMalformed = errors.New("feed malformed")
	// ErrUnauthorized is returned for a bad export token or a record the
	// caller does not own.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSyncFailed marks any failure of a reconciliation pass.
	ErrSyncFailed = errors.New("sync failed")
	// ErrValidation is returned for malformed integration input.
	ErrValidation = errors.New("invalid integration")
)

// SyncError is returned by a failed reconciliation. It matches both
// ErrSyncFailed and its cause.
type SyncError struct {
	IntegrationID string
	PropertyID    string
	Err           error
}

func (e *SyncError) Error() string {
	if e.IntegrationID != "" {
		return fmt.Sprintf("sync failed for integration %s: %v", e.IntegrationID, e.Err)
	}
	return fmt.Sprintf("sync failed for property %s: %v", e.PropertyID, e.Err)
}

func (e *SyncError) Unwrap() []error {
	return []error{ErrSyncFailed, e.Err}
}

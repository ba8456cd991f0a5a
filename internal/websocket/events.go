package websocket

import (
	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage/models"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// BroadcastSyncCompleted tells the integration's owner a sync succeeded.
func (b *EventBroadcaster) BroadcastSyncCompleted(in models.Integration, result models.SyncResult) {
	payload := SyncPayload{
		IntegrationID: in.ID,
		PropertyID:    in.PropertyID,
		DisplayName:   in.DisplayName(),
		TotalEvents:   result.TotalEvents,
		NewEvents:     result.NewEvents,
		UpdatedEvents: result.UpdatedEvents,
		SkippedEvents: result.SkippedEvents,
	}

	b.send(in.UserID, NewMessage(TypeIntegrationSyncCompleted, payload))
}

// BroadcastSyncError tells the integration's owner a sync failed.
func (b *EventBroadcaster) BroadcastSyncError(in models.Integration, err error) {
	payload := SyncErrorPayload{
		IntegrationID: in.ID,
		PropertyID:    in.PropertyID,
		DisplayName:   in.DisplayName(),
		Error:         "sync_error",
		Message:       err.Error(),
	}

	b.send(in.UserID, NewMessage(TypeIntegrationSyncError, payload))
}

// BroadcastSweepCompleted sends the aggregate of a scheduled sweep to everyone.
func (b *EventBroadcaster) BroadcastSweepCompleted(total, succeeded, failed int) {
	b.send("", NewMessage(TypeSweepCompleted, AggregatePayload{
		Total:     total,
		Succeeded: succeeded,
		Failed:    failed,
	}))
}

// BroadcastBulkCompleted sends the aggregate of a bulk sync to its requester.
func (b *EventBroadcaster) BroadcastBulkCompleted(userID string, total, succeeded, failed int) {
	b.send(userID, NewMessage(TypeBulkSyncCompleted, AggregatePayload{
		Total:     total,
		Succeeded: succeeded,
		Failed:    failed,
	}))
}

func (b *EventBroadcaster) send(userID string, msg Message) {
	if b == nil || b.hub == nil {
		return
	}
	data, err := msg.JSON()
	if err != nil {
		appLog.Error("encoding websocket message", err, "type", msg.Type)
		return
	}

	b.hub.BroadcastTo(userID, data)
}

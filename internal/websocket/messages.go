package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeIntegrationSyncCompleted MessageType = "integration.sync_completed"
	TypeIntegrationSyncError     MessageType = "integration.sync_error"
	TypeSweepCompleted           MessageType = "sync.sweep_completed"
	TypeBulkSyncCompleted        MessageType = "sync.bulk_completed"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncPayload is the payload for integration.sync_completed events.
type SyncPayload struct {
	IntegrationID string `json:"integration_id"`
	PropertyID    string `json:"property_id"`
	DisplayName   string `json:"display_name"`
	TotalEvents   int    `json:"total_events"`
	NewEvents     int    `json:"new_events"`
	UpdatedEvents int    `json:"updated_events"`
	SkippedEvents int    `json:"skipped_events"`
}

// SyncErrorPayload is the payload for integration.sync_error events.
type SyncErrorPayload struct {
	IntegrationID string `json:"integration_id"`
	PropertyID    string `json:"property_id"`
	DisplayName   string `json:"display_name"`
	Error         string `json:"error"`
	Message       string `json:"message"`
}

// AggregatePayload is the payload for sweep and bulk completion events.
type AggregatePayload struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}

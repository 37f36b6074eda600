// Package protocol defines the wire format of the push channel shared by the
// client SDK (internal/realtime) and the gateway (internal/ws).
package protocol

import (
	"encoding/json"

	"github.com/garland/internal/model"
)

type EventType string

// Server -> client event categories. Delivery is at-least-once and ordered
// within a category; consumers dedupe by id.
const (
	EventMessageReceived      EventType = "message_received"
	EventNotificationReceived EventType = "notification_received"
	EventNotificationRead     EventType = "notification_read"
	EventAllNotificationsRead EventType = "all_notifications_read"
	EventError                EventType = "error"
)

// Client -> server frame types.
const (
	FrameSendMessage EventType = "send_message"
	FrameMarkRead    EventType = "mark_read"
	FrameMarkAllRead EventType = "mark_all_read"
)

// Frame is what the client writes to the socket. Intents are acknowledged by
// echoed events, never by a direct response to the frame.
type Frame struct {
	Type EventType `json:"type"`

	// For send_message
	ReceiverID string `json:"receiver_id,omitempty"`
	Body       string `json:"body,omitempty"`
	FileURL    string `json:"file_url,omitempty"`
	FileName   string `json:"file_name,omitempty"`

	// For mark_read
	NotificationID string `json:"notification_id,omitempty"`
}

// Event is what the server writes to the socket. Payload stays raw on the
// client side so the multiplexer can fan out without knowing the schema.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutgoingEvent is the gateway-side counterpart with a typed payload.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// NotificationReadPayload acknowledges a single mark-read intent.
type NotificationReadPayload struct {
	NotificationID string `json:"notification_id"`
}

// ErrorPayload reports a rejected frame back to the offending session only.
type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeMessage decodes a message_received payload.
func DecodeMessage(raw json.RawMessage) (model.ChatMessage, error) {
	var m model.ChatMessage
	err := json.Unmarshal(raw, &m)
	return m, err
}

// DecodeNotification decodes a notification_received payload.
func DecodeNotification(raw json.RawMessage) (model.Notification, error) {
	var n model.Notification
	err := json.Unmarshal(raw, &n)
	return n, err
}

// DecodeNotificationRead decodes a notification_read payload.
func DecodeNotificationRead(raw json.RawMessage) (NotificationReadPayload, error) {
	var p NotificationReadPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}

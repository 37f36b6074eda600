package model

import "time"

// ChatMessage is a single message between a customer and a provider.
// Immutable once created; the gateway assigns ID and SentAt.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	ReceiverID string    `json:"receiver_id"`
	BodyHTML   string    `json:"body_html"`
	FileURL    string    `json:"file_url,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// Counterparty returns the other party of the message from viewerID's
// perspective: the sender for inbound messages, the receiver for outbound.
func (m ChatMessage) Counterparty(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Conversation groups the messages exchanged with one counterparty.
// It is derived from the flat message stream, never stored on its own.
type Conversation struct {
	CounterpartyID   string        `json:"counterparty_id"`
	CounterpartyName string        `json:"counterparty_name,omitempty"`
	Messages         []ChatMessage `json:"messages"`
	UnreadCount      int           `json:"unread_count"`
}

package model

import "time"

// Notification is one entry of a user's notification feed (new order, review,
// listing approved). The gateway assigns ID and CreatedAt; IsRead only moves
// from false to true.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	BodyHTML  string    `json:"body_html,omitempty"`
	TargetURL string    `json:"target_url,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

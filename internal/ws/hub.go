// Package ws is the gateway side of the push channel: one hub per process,
// any number of sessions per user (multi-tab), four event categories out and
// three intent frames in.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/model"
	"github.com/garland/internal/protocol"
	"github.com/google/uuid"
)

// WebPusher sends a web push to a user's subscribed browsers. Nil disables
// pushes.
type WebPusher interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// MessageStore persists chat messages.
type MessageStore interface {
	Create(ctx context.Context, m *model.ChatMessage) error
}

// NotificationStore persists read-state changes.
type NotificationStore interface {
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// NameResolver looks up a user's display name. The session store satisfies it;
// nil leaves sender names empty.
type NameResolver interface {
	UserName(ctx context.Context, userID string) (string, error)
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	maxConns   int
	msgStore   MessageStore
	notifStore NotificationStore
	pusher     WebPusher
	names      NameResolver
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(msgStore MessageStore, notifStore NotificationStore, maxConns int, pusher WebPusher, names NameResolver) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		msgStore:   msgStore,
		notifStore: notifStore,
		pusher:     pusher,
		names:      names,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleFrame dispatches an intent frame from one session.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, f protocol.Frame) {
	switch f.Type {
	case protocol.FrameSendMessage:
		h.handleSendMessage(ctx, c, f)
	case protocol.FrameMarkRead:
		h.handleMarkRead(ctx, c, f)
	case protocol.FrameMarkAllRead:
		h.handleMarkAllRead(ctx, c)
	default:
		h.sendError(c, "unknown frame type")
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, f protocol.Frame) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if f.ReceiverID == "" || (f.Body == "" && f.FileURL == "") {
		h.sendError(c, "receiver_id and body or file required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m := &model.ChatMessage{
		ID:         uuid.New().String(),
		SenderID:   c.userID,
		SenderName: h.displayName(ctx, c.userID),
		ReceiverID: f.ReceiverID,
		BodyHTML:   f.Body,
		FileURL:    f.FileURL,
		FileName:   f.FileName,
		SentAt:     time.Now().UTC(),
	}
	if err := h.msgStore.Create(ctx, m); err != nil {
		logger.Errorf("ws save message from=%s to=%s: %v", c.userID, f.ReceiverID, err)
		h.sendError(c, "failed to save message")
		return
	}

	// Echo to every session of both parties; the sender renders only now.
	out := protocol.OutgoingEvent{Type: protocol.EventMessageReceived, Payload: m}
	h.sendToUser(c.userID, out)
	if f.ReceiverID != c.userID {
		h.sendToUser(f.ReceiverID, out)
	}

	if h.pusher != nil && !h.hasSessions(f.ReceiverID) {
		body := m.BodyHTML
		if body == "" {
			body = m.FileName
		}
		if len(body) > 120 {
			body = body[:117] + "..."
		}
		title := "New message"
		if m.SenderName != "" {
			title = "New message from " + m.SenderName
		}
		data := map[string]string{"sender_id": c.userID, "message_id": m.ID}
		go h.pusher.Notify(context.Background(), f.ReceiverID, title, body, data)
	}
}

// displayName resolves the sender's display name so echoes carry it. A missing
// resolver or a lookup failure leaves it empty rather than blocking the send.
func (h *Hub) displayName(ctx context.Context, userID string) string {
	if h.names == nil {
		return ""
	}
	name, err := h.names.UserName(ctx, userID)
	if err != nil {
		logger.Errorf("ws resolve name user=%s: %v", userID, err)
		return ""
	}
	return name
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, f protocol.Frame) {
	if f.NotificationID == "" {
		h.sendError(c, "notification_id required")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.notifStore.MarkRead(ctx, f.NotificationID, c.userID); err != nil {
		logger.Errorf("ws mark read id=%s user=%s: %v", f.NotificationID, c.userID, err)
		h.sendError(c, "failed to mark read")
		return
	}
	h.PublishRead(c.userID, f.NotificationID)
}

func (h *Hub) handleMarkAllRead(ctx context.Context, c *Client) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.notifStore.MarkAllRead(ctx, c.userID); err != nil {
		logger.Errorf("ws mark all read user=%s: %v", c.userID, err)
		h.sendError(c, "failed to mark all read")
		return
	}
	h.PublishAllRead(c.userID)
}

// PublishNotification delivers a stored notification to every session of its
// user and falls back to web push when none is live. Also used by the
// internal REST ingress.
func (h *Hub) PublishNotification(n *model.Notification) {
	h.sendToUser(n.UserID, protocol.OutgoingEvent{Type: protocol.EventNotificationReceived, Payload: n})
	if h.pusher != nil && !h.hasSessions(n.UserID) {
		data := map[string]string{"notification_id": n.ID}
		if n.TargetURL != "" {
			data["target_url"] = n.TargetURL
		}
		go h.pusher.Notify(context.Background(), n.UserID, n.Title, n.BodyHTML, data)
	}
}

// PublishRead tells every session of userID that one notification was read.
// Called for the push path and by the REST fallback handler, so tabs still on
// the push channel converge either way.
func (h *Hub) PublishRead(userID, notificationID string) {
	h.sendToUser(userID, protocol.OutgoingEvent{
		Type:    protocol.EventNotificationRead,
		Payload: protocol.NotificationReadPayload{NotificationID: notificationID},
	})
}

// PublishAllRead tells every session of userID that the whole feed was read.
func (h *Hub) PublishAllRead(userID string) {
	h.sendToUser(userID, protocol.OutgoingEvent{Type: protocol.EventAllNotificationsRead})
}

func (h *Hub) hasSessions(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) sendError(c *Client, msg string) {
	h.sendToClient(c, protocol.OutgoingEvent{Type: protocol.EventError, Payload: protocol.ErrorPayload{Message: msg}})
}

func (h *Hub) sendToUser(userID string, msg protocol.OutgoingEvent) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg protocol.OutgoingEvent) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

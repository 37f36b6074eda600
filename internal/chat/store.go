// Package chat turns the flat message stream of the push channel into
// per-counterparty conversations. Conversations are a pure projection over
// the stream plus the viewer's id, so they cannot drift out of sync with it.
package chat

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/model"
	"github.com/garland/internal/protocol"
	"github.com/garland/internal/realtime"
)

// ErrEmptyMessage rejects a text send with no body before any network call.
// File-only messages are a distinct type and bypass this guard.
var ErrEmptyMessage = errors.New("chat: message body required")

// Sender queues outbound frames. *realtime.Conn satisfies it.
type Sender interface {
	Send(f protocol.Frame) error
}

// HistoryAPI loads the viewer's chat history. *rest.Client satisfies it.
type HistoryAPI interface {
	History(ctx context.Context, counterpartyID string) ([]model.ChatMessage, error)
}

// Project groups messages by counterparty from viewerID's perspective and
// orders each conversation by SentAt ascending. Pure: recomputed on demand,
// never cached, which sidesteps invalidation bugs at message volumes that are
// small per session. The role-dependent keying falls out of Counterparty: a
// provider gets one conversation per customer and vice versa.
func Project(messages []model.ChatMessage, viewerID string) map[string]*model.Conversation {
	out := make(map[string]*model.Conversation)
	for _, m := range messages {
		cp := m.Counterparty(viewerID)
		conv, ok := out[cp]
		if !ok {
			conv = &model.Conversation{CounterpartyID: cp}
			out[cp] = conv
		}
		if conv.CounterpartyName == "" && m.SenderID == cp {
			conv.CounterpartyName = m.SenderName
		}
		conv.Messages = append(conv.Messages, m)
	}
	for _, conv := range out {
		msgs := conv.Messages
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
	}
	return out
}

// Store holds the message stream, the active conversation pointer, unread
// counters and per-counterparty drafts. Sends are confirm-then-render: the
// stream mutates only when the echoed message_received event round-trips.
type Store struct {
	viewerID string
	sender   Sender

	mu       sync.RWMutex
	messages []model.ChatMessage
	seen     map[string]struct{}
	active   string
	drafts   map[string]string
	unread   map[string]int

	sub *realtime.Subscription
}

// NewStore creates a store for viewerID and, when mux is non-nil, subscribes
// it to the message_received category.
func NewStore(viewerID string, sender Sender, mux *realtime.Mux) *Store {
	s := &Store{
		viewerID: viewerID,
		sender:   sender,
		seen:     make(map[string]struct{}),
		drafts:   make(map[string]string),
		unread:   make(map[string]int),
	}
	if mux != nil {
		s.sub = mux.On(protocol.EventMessageReceived, func(e protocol.Event) {
			m, err := protocol.DecodeMessage(e.Payload)
			if err != nil {
				logger.Errorf("chat: decode message: %v", err)
				return
			}
			s.AppendIncoming(m)
		})
	}
	return s
}

// Close detaches the store from the multiplexer.
func (s *Store) Close() {
	if s.sub != nil {
		s.sub.Cancel()
	}
}

// LoadInitial seeds the store for a fresh session. The fetch shape depends on
// the viewer's side of the marketplace: a provider loads the whole stream so
// every customer conversation is present up front, a customer loads only the
// active counterparty and fetches others on demand.
func (s *Store) LoadInitial(ctx context.Context, api HistoryAPI, role model.Role) error {
	with := ""
	if role == model.RoleCustomer {
		with = s.Active()
	}
	msgs, err := api.History(ctx, with)
	if err != nil {
		return err
	}
	s.LoadHistory(msgs)
	return nil
}

// LoadHistory seeds the stream from a history fetch. Duplicates of already
// seen ids are dropped.
func (s *Store) LoadHistory(messages []model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		s.appendLocked(m, false)
	}
}

// AppendIncoming applies one confirmed message from the event path. Messages
// from someone other than the viewer bump the unread counter of their
// conversation unless it is the active one.
func (s *Store) AppendIncoming(m model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(m, true)
}

func (s *Store) appendLocked(m model.ChatMessage, countUnread bool) {
	if _, dup := s.seen[m.ID]; dup {
		return
	}
	s.seen[m.ID] = struct{}{}
	s.messages = append(s.messages, m)
	if countUnread && m.SenderID != s.viewerID {
		if cp := m.Counterparty(s.viewerID); cp != s.active {
			s.unread[cp]++
		}
	}
}

// Select switches the active conversation and clears its unread counter.
// Drafts are keyed by counterparty, so switching away and back preserves any
// half-typed message exactly.
func (s *Store) Select(counterpartyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = counterpartyID
	s.unread[counterpartyID] = 0
}

// Active returns the id of the active conversation ("" when none).
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetDraft stores unsent input for one counterparty.
func (s *Store) SetDraft(counterpartyID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[counterpartyID] = text
}

// Draft returns the unsent input for one counterparty.
func (s *Store) Draft(counterpartyID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drafts[counterpartyID]
}

// Selected returns the active conversation's projection, or nil when no
// conversation is selected.
func (s *Store) Selected() *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == "" {
		return nil
	}
	conv, ok := Project(s.messages, s.viewerID)[s.active]
	if !ok {
		return &model.Conversation{CounterpartyID: s.active}
	}
	return conv
}

// Conversations returns the full projection with unread counters applied.
func (s *Store) Conversations() map[string]*model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Project(s.messages, s.viewerID)
	for cp, n := range s.unread {
		if n == 0 {
			continue
		}
		conv, ok := out[cp]
		if !ok {
			conv = &model.Conversation{CounterpartyID: cp}
			out[cp] = conv
		}
		conv.UnreadCount = n
	}
	return out
}

// SendMessage queues a text message. The local stream is not touched; the
// message appears for every session, the sender's included, when the gateway
// echoes it back, which gives all clients one consistent append order.
func (s *Store) SendMessage(counterpartyID, body string) error {
	if body == "" {
		return ErrEmptyMessage
	}
	return s.sender.Send(protocol.Frame{
		Type:       protocol.FrameSendMessage,
		ReceiverID: counterpartyID,
		Body:       body,
	})
}

// SendFile queues a file message. A file with no text is valid.
func (s *Store) SendFile(counterpartyID, fileURL, fileName string) error {
	if fileURL == "" {
		return ErrEmptyMessage
	}
	return s.sender.Send(protocol.Frame{
		Type:       protocol.FrameSendMessage,
		ReceiverID: counterpartyID,
		FileURL:    fileURL,
		FileName:   fileName,
	})
}

// Package notify is the notification side of the realtime client: the shared
// feed, the read-state synchronizer with its push-first/REST-fallback policy,
// and the three independent UI surface projections.
package notify

import (
	"context"
	"sync"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/model"
	"github.com/garland/internal/protocol"
	"github.com/garland/internal/realtime"
)

// Transport is the push channel as the synchronizer sees it.
// *realtime.Conn satisfies it.
type Transport interface {
	Connect(ctx context.Context, userID string) error
	Disconnect()
	IsConnected() bool
	Send(f protocol.Frame) error
	Mux() *realtime.Mux
}

// API is the REST fallback. *rest.Client satisfies it.
type API interface {
	MarkRead(ctx context.Context, notificationID string) error
	MarkAllRead(ctx context.Context) error
	Notifications(ctx context.Context) ([]model.Notification, error)
}

// Service is the notification facade handed to the UI layer. It keeps the
// feed in sync through the event path and degrades read-state intents to REST
// when the push channel is down.
type Service struct {
	transport Transport
	api       API
	mux       *realtime.Mux
	feed      *Feed

	mu         sync.Mutex
	userID     string
	inflight   map[string]struct{}
	allPending bool

	subs []*realtime.Subscription
}

func NewService(transport Transport, api API) *Service {
	s := &Service{
		transport: transport,
		api:       api,
		mux:       transport.Mux(),
		feed:      NewFeed(),
		inflight:  make(map[string]struct{}),
	}
	// The feed's own subscriptions go first so every later consumer in the
	// same category observes the already-updated feed.
	s.subs = append(s.subs,
		s.mux.On(protocol.EventNotificationReceived, func(e protocol.Event) {
			n, err := protocol.DecodeNotification(e.Payload)
			if err != nil {
				logger.Errorf("notify: decode notification: %v", err)
				return
			}
			s.feed.Upsert(n)
		}),
		s.mux.On(protocol.EventNotificationRead, func(e protocol.Event) {
			p, err := protocol.DecodeNotificationRead(e.Payload)
			if err != nil {
				logger.Errorf("notify: decode notification_read: %v", err)
				return
			}
			s.feed.MarkRead(p.NotificationID)
		}),
		s.mux.On(protocol.EventAllNotificationsRead, func(protocol.Event) {
			s.feed.MarkAllRead()
		}),
	)
	return s
}

// Feed exposes the underlying notification set to surface projections.
func (s *Service) Feed() *Feed { return s.feed }

// StartConnection opens the push channel for userID and loads the initial
// feed over REST. A transport failure is logged, not returned: the REST data
// path keeps working and the connection manager retries on its own. Only a
// failure of the initial fetch is reported.
func (s *Service) StartConnection(ctx context.Context, userID string) error {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	if err := s.transport.Connect(ctx, userID); err != nil {
		logger.Errorf("notify: push channel unavailable, using REST only: %v", err)
	}
	list, err := s.api.Notifications(ctx)
	if err != nil {
		return err
	}
	s.feed.Merge(list)
	return nil
}

// IsConnected reports whether the push channel is live.
func (s *Service) IsConnected() bool { return s.transport.IsConnected() }

// Stop detaches the service's feed subscriptions and closes the channel.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.transport.Disconnect()
}

// MarkAsRead marks one notification read, push path first. Concurrent calls
// for the same id while one is outstanding are collapsed into that call.
// The feed flips to read only via the echoed event (push) or the refetch
// after the REST call; never optimistically.
func (s *Service) MarkAsRead(ctx context.Context, notificationID string) error {
	s.mu.Lock()
	if _, busy := s.inflight[notificationID]; busy {
		s.mu.Unlock()
		return nil
	}
	s.inflight[notificationID] = struct{}{}
	userID := s.userID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, notificationID)
		s.mu.Unlock()
	}()

	return s.submit(ctx, userID,
		func() error {
			return s.transport.Send(protocol.Frame{Type: protocol.FrameMarkRead, NotificationID: notificationID})
		},
		func(ctx context.Context) error {
			return s.api.MarkRead(ctx, notificationID)
		})
}

// MarkAllAsRead marks every notification read, push path first.
func (s *Service) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	if s.allPending {
		s.mu.Unlock()
		return nil
	}
	s.allPending = true
	userID := s.userID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.allPending = false
		s.mu.Unlock()
	}()

	return s.submit(ctx, userID,
		func() error {
			return s.transport.Send(protocol.Frame{Type: protocol.FrameMarkAllRead})
		},
		func(ctx context.Context) error {
			return s.api.MarkAllRead(ctx)
		})
}

// submit is the one fallback policy shared by both read-state operations:
// ensure a connection, try the push intent, otherwise run the REST call and
// refetch so the feed reflects the server's state.
func (s *Service) submit(ctx context.Context, userID string, push func() error, rest func(context.Context) error) error {
	if !s.transport.IsConnected() && userID != "" {
		if err := s.transport.Connect(ctx, userID); err != nil {
			logger.Errorf("notify: ensure connection: %v", err)
		}
	}
	if s.transport.IsConnected() {
		if err := push(); err == nil {
			return nil
		}
	}
	if err := rest(ctx); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// refresh refetches the list and merges it into the feed (REST path only;
// the push path updates the feed through echoed events instead).
func (s *Service) refresh(ctx context.Context) error {
	list, err := s.api.Notifications(ctx)
	if err != nil {
		return err
	}
	s.feed.Merge(list)
	return nil
}

// OnNotificationReceived registers a handler for arriving notifications.
// Cancelling the returned subscription is the unsubscribe.
func (s *Service) OnNotificationReceived(fn func(model.Notification)) *realtime.Subscription {
	return s.mux.On(protocol.EventNotificationReceived, func(e protocol.Event) {
		n, err := protocol.DecodeNotification(e.Payload)
		if err != nil {
			return
		}
		fn(n)
	})
}

// OnNotificationRead registers a handler for single-notification read events.
func (s *Service) OnNotificationRead(fn func(notificationID string)) *realtime.Subscription {
	return s.mux.On(protocol.EventNotificationRead, func(e protocol.Event) {
		p, err := protocol.DecodeNotificationRead(e.Payload)
		if err != nil {
			return
		}
		fn(p.NotificationID)
	})
}

// OnNotificationsUpdated registers a handler for bulk read-state changes.
func (s *Service) OnNotificationsUpdated(fn func()) *realtime.Subscription {
	return s.mux.On(protocol.EventAllNotificationsRead, func(protocol.Event) {
		fn()
	})
}

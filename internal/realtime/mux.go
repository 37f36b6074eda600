package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/protocol"
)

// Handler receives one event. Handlers run synchronously on the read pump
// goroutine, in registration order within a category.
type Handler func(e protocol.Event)

// Subscription is the handle returned by Mux.On. Cancelling it is the only
// way to unsubscribe, which removes the "forgot to call off" failure class.
type Subscription struct {
	mux       *Mux
	category  protocol.EventType
	fn        Handler
	cancelled atomic.Bool
}

// Cancel detaches the handler. Idempotent; safe on a nil Subscription.
// A subscription cancelled while a fan-out is in progress is skipped for the
// remainder of that pass.
func (s *Subscription) Cancel() {
	if s == nil || !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.mux.remove(s)
}

// Mux fans inbound transport events out to registered handlers. Registration
// and removal are atomic with respect to an in-progress fan-out.
type Mux struct {
	mu   sync.RWMutex
	subs map[protocol.EventType][]*Subscription
}

func NewMux() *Mux {
	return &Mux{subs: make(map[protocol.EventType][]*Subscription)}
}

// On registers a handler for one event category and returns its Subscription.
// Each call creates an independent subscription, so two surfaces registering
// the same function never interfere with each other's teardown.
func (m *Mux) On(category protocol.EventType, fn Handler) *Subscription {
	s := &Subscription{mux: m, category: category, fn: fn}
	m.mu.Lock()
	m.subs[category] = append(m.subs[category], s)
	m.mu.Unlock()
	return s
}

func (m *Mux) remove(s *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[s.category]
	for i, cur := range list {
		if cur == s {
			m.subs[s.category] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Dispatch delivers one event to every live subscription of its category, in
// registration order. A panicking handler does not stop the fan-out.
func (m *Mux) Dispatch(e protocol.Event) {
	m.mu.RLock()
	list := m.subs[e.Type]
	targets := make([]*Subscription, len(list))
	copy(targets, list)
	m.mu.RUnlock()

	for _, s := range targets {
		if s.cancelled.Load() {
			continue
		}
		invoke(s, e)
	}
}

func invoke(s *Subscription, e protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("realtime: handler panic on %s: %v", e.Type, r)
		}
	}()
	s.fn(e)
}

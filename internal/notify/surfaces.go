package notify

import (
	"sync/atomic"

	"github.com/garland/internal/model"
	"github.com/garland/internal/realtime"
)

// The three surfaces are independent projections over the same Feed. Each one
// owns its subscriptions, so tearing one down never detaches another.

// Badge projects the unread count for the header.
type Badge struct {
	feed     *Feed
	onChange func(unread int)
	subs     []*realtime.Subscription
}

// NewBadge attaches a badge. onChange fires after any event that can move
// the unread count; it may be nil when the caller polls Count instead.
func NewBadge(svc *Service, onChange func(unread int)) *Badge {
	b := &Badge{feed: svc.Feed(), onChange: onChange}
	notify := func() {
		if b.onChange != nil {
			b.onChange(b.feed.Unread())
		}
	}
	b.subs = append(b.subs,
		svc.OnNotificationReceived(func(model.Notification) { notify() }),
		svc.OnNotificationRead(func(string) { notify() }),
		svc.OnNotificationsUpdated(notify),
	)
	return b
}

// Count returns the current unread count.
func (b *Badge) Count() int { return b.feed.Unread() }

// Close detaches the badge's handlers.
func (b *Badge) Close() {
	for _, s := range b.subs {
		s.Cancel()
	}
}

// Drawer projects the full notification history, newest first.
type Drawer struct {
	feed     *Feed
	open     atomic.Bool
	onChange func()
	subs     []*realtime.Subscription
}

func NewDrawer(svc *Service, onChange func()) *Drawer {
	d := &Drawer{feed: svc.Feed(), onChange: onChange}
	notify := func() {
		if d.onChange != nil {
			d.onChange()
		}
	}
	d.subs = append(d.subs,
		svc.OnNotificationReceived(func(model.Notification) { notify() }),
		svc.OnNotificationRead(func(string) { notify() }),
		svc.OnNotificationsUpdated(notify),
	)
	return d
}

// List returns the drawer's rows, sorted by CreatedAt descending.
func (d *Drawer) List() []model.Notification { return d.feed.List() }

// SetOpen records whether the drawer is visible; the toaster suppresses
// arrival toasts while it is.
func (d *Drawer) SetOpen(open bool) { d.open.Store(open) }

// IsOpen reports the drawer's visibility.
func (d *Drawer) IsOpen() bool { return d.open.Load() }

// Close detaches the drawer's handlers.
func (d *Drawer) Close() {
	for _, s := range d.subs {
		s.Cancel()
	}
}

// Toaster emits an arrival toast per notification, but only while the drawer
// is closed, so the user never gets the same alert twice.
type Toaster struct {
	drawer *Drawer
	sub    *realtime.Subscription
}

func NewToaster(svc *Service, drawer *Drawer, show func(model.Notification)) *Toaster {
	t := &Toaster{drawer: drawer}
	t.sub = svc.OnNotificationReceived(func(n model.Notification) {
		if drawer != nil && drawer.IsOpen() {
			return
		}
		show(n)
	})
	return t
}

// Close detaches the toaster's handler.
func (t *Toaster) Close() { t.sub.Cancel() }

package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garland/internal/model"
	"github.com/garland/internal/protocol"
)

func dispatchNotification(tr *fakeTransport, n model.Notification) {
	payload, _ := json.Marshal(n)
	tr.mux.Dispatch(protocol.Event{Type: protocol.EventNotificationReceived, Payload: payload})
}

func dispatchRead(tr *fakeTransport, id string) {
	payload, _ := json.Marshal(protocol.NotificationReadPayload{NotificationID: id})
	tr.mux.Dispatch(protocol.Event{Type: protocol.EventNotificationRead, Payload: payload})
}

func TestBadgeTracksUnreadCount(t *testing.T) {
	tr := newFakeTransport()
	svc := NewService(tr, new(mockAPI))

	var counts []int
	badge := NewBadge(svc, func(unread int) { counts = append(counts, unread) })
	defer badge.Close()

	dispatchNotification(tr, notif("a", time.Now(), false))
	dispatchNotification(tr, notif("b", time.Now(), false))
	dispatchRead(tr, "a")
	tr.mux.Dispatch(protocol.Event{Type: protocol.EventAllNotificationsRead})

	assert.Equal(t, []int{1, 2, 1, 0}, counts)
	assert.Equal(t, 0, badge.Count())
}

func TestDrawerListsNewestFirst(t *testing.T) {
	tr := newFakeTransport()
	svc := NewService(tr, new(mockAPI))
	drawer := NewDrawer(svc, nil)
	defer drawer.Close()

	base := time.Now()
	dispatchNotification(tr, notif("old", base.Add(-time.Hour), false))
	dispatchNotification(tr, notif("new", base, false))

	list := drawer.List()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
}

func TestToasterSuppressedWhileDrawerOpen(t *testing.T) {
	tr := newFakeTransport()
	svc := NewService(tr, new(mockAPI))
	drawer := NewDrawer(svc, nil)
	defer drawer.Close()

	var toasts []string
	toaster := NewToaster(svc, drawer, func(n model.Notification) { toasts = append(toasts, n.ID) })
	defer toaster.Close()

	dispatchNotification(tr, notif("a", time.Now(), false))
	drawer.SetOpen(true)
	dispatchNotification(tr, notif("b", time.Now(), false))
	drawer.SetOpen(false)
	dispatchNotification(tr, notif("c", time.Now(), false))

	assert.Equal(t, []string{"a", "c"}, toasts)
	// The suppressed notification still reached the shared feed.
	assert.Equal(t, 3, svc.Feed().Len())
}

func TestSurfaceTeardownIsIndependent(t *testing.T) {
	tr := newFakeTransport()
	svc := NewService(tr, new(mockAPI))

	badgeCalls, drawerCalls := 0, 0
	badge := NewBadge(svc, func(int) { badgeCalls++ })
	drawer := NewDrawer(svc, func() { drawerCalls++ })
	defer drawer.Close()

	dispatchNotification(tr, notif("a", time.Now(), false))
	badge.Close()
	dispatchNotification(tr, notif("b", time.Now(), false))

	assert.Equal(t, 1, badgeCalls)
	assert.Equal(t, 2, drawerCalls)
}

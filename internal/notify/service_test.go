package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/garland/internal/model"
	"github.com/garland/internal/protocol"
	"github.com/garland/internal/realtime"
)

// fakeTransport stands in for *realtime.Conn. With echo enabled it dispatches
// the event the gateway would send back for each accepted intent frame.
type fakeTransport struct {
	mux *realtime.Mux

	mu         sync.Mutex
	connected  bool
	connectErr error
	sendErr    error
	frames     []protocol.Frame
	echo       bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{mux: realtime.NewMux()}
}

func (f *fakeTransport) Connect(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Send(fr protocol.Frame) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.frames = append(f.frames, fr)
	echo := f.echo
	f.mu.Unlock()

	if !echo {
		return nil
	}
	switch fr.Type {
	case protocol.FrameMarkRead:
		payload, _ := json.Marshal(protocol.NotificationReadPayload{NotificationID: fr.NotificationID})
		f.mux.Dispatch(protocol.Event{Type: protocol.EventNotificationRead, Payload: payload})
	case protocol.FrameMarkAllRead:
		f.mux.Dispatch(protocol.Event{Type: protocol.EventAllNotificationsRead})
	}
	return nil
}

func (f *fakeTransport) Mux() *realtime.Mux { return f.mux }

func (f *fakeTransport) sentFrames() []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) MarkRead(ctx context.Context, notificationID string) error {
	args := m.Called(ctx, notificationID)
	return args.Error(0)
}

func (m *mockAPI) MarkAllRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockAPI) Notifications(ctx context.Context) ([]model.Notification, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Notification), args.Error(1)
}

func TestStartConnectionLoadsInitialFeed(t *testing.T) {
	tr := newFakeTransport()
	api := new(mockAPI)
	api.On("Notifications", mock.Anything).Return([]model.Notification{
		notif("a", time.Now(), false),
		notif("b", time.Now(), true),
	}, nil)

	svc := NewService(tr, api)
	require.NoError(t, svc.StartConnection(context.Background(), "user-1"))

	assert.True(t, svc.IsConnected())
	assert.Equal(t, 2, svc.Feed().Len())
	assert.Equal(t, 1, svc.Feed().Unread())
}

func TestStartConnectionSurvivesTransportFailure(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("gateway down")
	api := new(mockAPI)
	api.On("Notifications", mock.Anything).Return([]model.Notification{notif("a", time.Now(), false)}, nil)

	svc := NewService(tr, api)
	// Transport failure is absorbed; the REST data path still works.
	require.NoError(t, svc.StartConnection(context.Background(), "user-1"))
	assert.False(t, svc.IsConnected())
	assert.Equal(t, 1, svc.Feed().Len())
}

func TestStartConnectionReportsFetchFailure(t *testing.T) {
	tr := newFakeTransport()
	api := new(mockAPI)
	api.On("Notifications", mock.Anything).Return(nil, errors.New("500"))

	svc := NewService(tr, api)
	require.Error(t, svc.StartConnection(context.Background(), "user-1"))
}

func TestMarkAsReadPrefersPushAndIsNotOptimistic(t *testing.T) {
	tr := newFakeTransport()
	api := new(mockAPI)
	svc := NewService(tr, api)
	svc.Feed().Upsert(notif("n-1", time.Now(), false))
	require.NoError(t, tr.Connect(context.Background(), "user-1"))

	require.NoError(t, svc.MarkAsRead(context.Background(), "n-1"))

	frames := tr.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.FrameMarkRead, frames[0].Type)
	assert.Equal(t, "n-1", frames[0].NotificationID)
	// No echo yet: the feed must not have flipped on its own.
	assert.Equal(t, 1, svc.Feed().Unread())
	api.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
}

func TestMarkAsReadFeedFlipsOnEcho(t *testing.T) {
	tr := newFakeTransport()
	tr.echo = true
	api := new(mockAPI)
	svc := NewService(tr, api)
	svc.Feed().Upsert(notif("n-1", time.Now(), false))
	require.NoError(t, tr.Connect(context.Background(), "user-1"))

	require.NoError(t, svc.MarkAsRead(context.Background(), "n-1"))
	assert.Equal(t, 0, svc.Feed().Unread())
}

func TestMarkAsReadFallsBackToRESTAndRefetches(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("gateway down")
	api := new(mockAPI)
	api.On("MarkRead", mock.Anything, "n-1").Return(nil)
	api.On("Notifications", mock.Anything).Return([]model.Notification{notif("n-1", time.Now(), true)}, nil)

	svc := NewService(tr, api)
	svc.Feed().Upsert(notif("n-1", time.Now(), false))
	svc.mu.Lock()
	svc.userID = "user-1"
	svc.mu.Unlock()

	require.NoError(t, svc.MarkAsRead(context.Background(), "n-1"))

	// The flip came from the refetch, not from local guessing.
	assert.Equal(t, 0, svc.Feed().Unread())
	api.AssertCalled(t, "MarkRead", mock.Anything, "n-1")
	assert.Empty(t, tr.sentFrames())
}

func TestMarkAsReadPushSendFailureFallsBack(t *testing.T) {
	tr := newFakeTransport()
	tr.sendErr = realtime.ErrNotConnected
	api := new(mockAPI)
	api.On("MarkRead", mock.Anything, "n-1").Return(nil)
	api.On("Notifications", mock.Anything).Return([]model.Notification{notif("n-1", time.Now(), true)}, nil)

	svc := NewService(tr, api)
	require.NoError(t, tr.Connect(context.Background(), "user-1"))
	require.NoError(t, svc.MarkAsRead(context.Background(), "n-1"))
	api.AssertCalled(t, "MarkRead", mock.Anything, "n-1")
}

func TestMarkAsReadBothPathsDownReturnsError(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("gateway down")
	api := new(mockAPI)
	api.On("MarkRead", mock.Anything, "n-1").Return(errors.New("503"))

	svc := NewService(tr, api)
	svc.Feed().Upsert(notif("n-1", time.Now(), false))

	require.Error(t, svc.MarkAsRead(context.Background(), "n-1"))
	// The record stays unread so the UI can offer the action again.
	assert.Equal(t, 1, svc.Feed().Unread())
}

func TestMarkAsReadCollapsesConcurrentCallsPerID(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("gateway down")
	api := new(mockAPI)
	entered := make(chan struct{})
	release := make(chan struct{})
	api.On("MarkRead", mock.Anything, "n-1").Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(nil)
	api.On("Notifications", mock.Anything).Return([]model.Notification{}, nil)

	svc := NewService(tr, api)
	done := make(chan error, 1)
	go func() { done <- svc.MarkAsRead(context.Background(), "n-1") }()
	<-entered

	// Second call for the same id joins the outstanding one.
	require.NoError(t, svc.MarkAsRead(context.Background(), "n-1"))
	close(release)
	require.NoError(t, <-done)

	api.AssertNumberOfCalls(t, "MarkRead", 1)
}

func TestMarkAllAsReadCollapsesConcurrentCalls(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = errors.New("gateway down")
	api := new(mockAPI)
	entered := make(chan struct{})
	release := make(chan struct{})
	api.On("MarkAllRead", mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(nil)
	api.On("Notifications", mock.Anything).Return([]model.Notification{}, nil)

	svc := NewService(tr, api)
	done := make(chan error, 1)
	go func() { done <- svc.MarkAllAsRead(context.Background()) }()
	<-entered

	require.NoError(t, svc.MarkAllAsRead(context.Background()))
	close(release)
	require.NoError(t, <-done)

	api.AssertNumberOfCalls(t, "MarkAllRead", 1)
}

func TestFeedUpdatesBeforeConsumerHandlers(t *testing.T) {
	tr := newFakeTransport()
	api := new(mockAPI)
	svc := NewService(tr, api)

	// The service's own feed subscription was registered first, so by the time
	// a consumer handler runs the feed already contains the notification.
	seen := make(chan int, 1)
	sub := svc.OnNotificationReceived(func(model.Notification) {
		seen <- svc.Feed().Len()
	})
	defer sub.Cancel()

	payload, _ := json.Marshal(notif("n-1", time.Now(), false))
	tr.mux.Dispatch(protocol.Event{Type: protocol.EventNotificationReceived, Payload: payload})

	assert.Equal(t, 1, <-seen)
}

func TestStopDetachesFeedSubscriptions(t *testing.T) {
	tr := newFakeTransport()
	api := new(mockAPI)
	svc := NewService(tr, api)

	svc.Stop()

	payload, _ := json.Marshal(notif("n-1", time.Now(), false))
	tr.mux.Dispatch(protocol.Event{Type: protocol.EventNotificationReceived, Payload: payload})
	assert.Equal(t, 0, svc.Feed().Len())
	assert.False(t, svc.IsConnected())
}

package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garland/internal/middleware"
	"github.com/garland/internal/model"
	"github.com/garland/internal/repository"
	"github.com/garland/internal/ws"
)

type fakeNotifRepo struct {
	mu      sync.Mutex
	list    []model.Notification
	listErr error
	read    []string
	allRead []string
}

func (r *fakeNotifRepo) List(ctx context.Context, userID string) ([]model.Notification, error) {
	return r.list, r.listErr
}

func (r *fakeNotifRepo) MarkRead(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.list {
		if n.ID == id && n.UserID == userID {
			r.read = append(r.read, id)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeNotifRepo) MarkAllRead(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allRead = append(r.allRead, userID)
	return nil
}

func notifRouter(repo *fakeNotifRepo, userID string) http.Handler {
	// Publishing to a hub with no live sessions is a no-op; Run is not needed.
	h := NewNotificationHandler(repo, ws.NewHub(nil, nil, 10, nil, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/api/notifications", h.List)
	r.Post("/api/notifications/{id}/read", h.MarkRead)
	r.Post("/api/notifications/read-all", h.MarkAllRead)
	return r
}

func TestListNotifications(t *testing.T) {
	repo := &fakeNotifRepo{list: []model.Notification{
		{ID: "a", UserID: "u-1", Title: "New order", CreatedAt: time.Now().UTC()},
	}}
	rec := httptest.NewRecorder()
	notifRouter(repo, "u-1").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"New order"`)
}

func TestMarkReadOwnNotification(t *testing.T) {
	repo := &fakeNotifRepo{list: []model.Notification{{ID: "a", UserID: "u-1"}}}
	rec := httptest.NewRecorder()
	notifRouter(repo, "u-1").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/notifications/a/read", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"a"}, repo.read)
}

func TestMarkReadForeignNotificationIs404(t *testing.T) {
	repo := &fakeNotifRepo{list: []model.Notification{{ID: "a", UserID: "someone-else"}}}
	rec := httptest.NewRecorder()
	notifRouter(repo, "u-1").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/notifications/a/read", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, repo.read)
}

func TestMarkAllRead(t *testing.T) {
	repo := &fakeNotifRepo{}
	rec := httptest.NewRecorder()
	notifRouter(repo, "u-1").ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/notifications/read-all", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u-1"}, repo.allRead)
}

func TestUnauthenticatedRequestIs401(t *testing.T) {
	repo := &fakeNotifRepo{}
	rec := httptest.NewRecorder()
	notifRouter(repo, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

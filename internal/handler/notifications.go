package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/middleware"
	"github.com/garland/internal/model"
	"github.com/garland/internal/repository"
	"github.com/garland/internal/ws"
)

// NotificationLister is the repository surface the REST notification
// endpoints need.
type NotificationLister interface {
	List(ctx context.Context, userID string) ([]model.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// NotificationHandler serves the notification feed over REST. Mark endpoints
// double as the fallback for clients whose push channel is down; they publish
// the same read events to the hub so tabs still on the push channel converge.
type NotificationHandler struct {
	repo NotificationLister
	hub  *ws.Hub
}

func NewNotificationHandler(repo NotificationLister, hub *ws.Hub) *NotificationHandler {
	return &NotificationHandler{repo: repo, hub: hub}
}

// List returns the user's notifications, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	list, err := h.repo.List(r.Context(), userID)
	if err != nil {
		logger.Errorf("notifications list user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkRead flips one notification to read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	if err := h.repo.MarkRead(r.Context(), id, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		logger.Errorf("notifications mark read id=%s user=%s: %v", id, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	h.hub.PublishRead(userID, id)
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead flips the whole feed to read.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.repo.MarkAllRead(r.Context(), userID); err != nil {
		logger.Errorf("notifications mark all read user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to mark all read")
		return
	}
	h.hub.PublishAllRead(userID)
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/model"
	"github.com/garland/internal/ws"
)

// NotificationCreator persists new notifications.
type NotificationCreator interface {
	Create(ctx context.Context, n *model.Notification) error
}

// NotifyIngressHandler is the internal endpoint the storefront backend calls
// when something happens that a user should hear about (new order, review,
// listing approved). Guarded by middleware.InternalOnly; never exposed to
// browsers.
type NotifyIngressHandler struct {
	repo NotificationCreator
	hub  *ws.Hub
}

func NewNotifyIngressHandler(repo NotificationCreator, hub *ws.Hub) *NotifyIngressHandler {
	return &NotifyIngressHandler{repo: repo, hub: hub}
}

// NotifyRequest is the ingress body.
type NotifyRequest struct {
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	BodyHTML  string `json:"body_html"`
	TargetURL string `json:"target_url,omitempty"`
}

// Notify stores the notification and delivers it: push channel when the user
// has live sessions, web push otherwise.
func (h *NotifyIngressHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "user_id and title required")
		return
	}

	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Title:     req.Title,
		BodyHTML:  req.BodyHTML,
		TargetURL: req.TargetURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.Create(r.Context(), n); err != nil {
		logger.Errorf("notify ingress user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to store notification")
		return
	}
	h.hub.PublishNotification(n)
	writeJSON(w, http.StatusCreated, n)
}

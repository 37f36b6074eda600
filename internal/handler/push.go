package handler

import (
	"encoding/json"
	"net/http"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/middleware"
	"github.com/garland/internal/push"
	"github.com/garland/internal/storage"
)

// PushHandler stores and removes web push subscriptions for the current user.
type PushHandler struct {
	store  storage.SessionStore
	sender *push.Sender
}

func NewPushHandler(store storage.SessionStore, sender *push.Sender) *PushHandler {
	return &PushHandler{store: store, sender: sender}
}

// VAPIDPublic returns the public key the frontend subscribes with.
func (h *PushHandler) VAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(h.sender.PublicKey()))
}

// SubscribeRequest carries the subscription from PushManager.subscribe().
type SubscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Subscription.Endpoint == "" || req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	raw, err := json.Marshal(req.Subscription)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscription encode")
		return
	}
	if err := h.store.AddPushSubscription(r.Context(), userID, string(raw)); err != nil {
		logger.Errorf("push subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest removes a subscription by endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	// Subscriptions are stored serialized; match by endpoint.
	raws, err := h.store.PushSubscriptions(r.Context(), userID)
	if err != nil {
		logger.Errorf("push unsubscribe load user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	for _, raw := range raws {
		var sub push.Subscription
		if json.Unmarshal([]byte(raw), &sub) == nil && sub.Endpoint == req.Endpoint {
			if err := h.store.RemovePushSubscription(r.Context(), userID, raw); err != nil {
				logger.Errorf("push unsubscribe user=%s: %v", userID, err)
				writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
				return
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Package push sends Web Push notifications (VAPID) to browsers whose user
// has no live websocket session. Subscriptions live in the session store.
package push

import (
	"context"
	"encoding/json"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/garland/internal/logger"
	"github.com/garland/internal/storage"
)

// Subscription is the browser-side PushSubscription as serialized by the
// frontend service worker.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type Sender struct {
	store storage.SessionStore
	vapid *webpush.Options
}

// NewSender returns nil when either key is empty, which disables pushes:
// subscriptions are still stored, sending is skipped.
func NewSender(store storage.SessionStore, subscriber, publicKey, privateKey string) *Sender {
	if publicKey == "" || privateKey == "" {
		return nil
	}
	return &Sender{
		store: store,
		vapid: &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             30,
		},
	}
}

// Notify sends title/body/data to every subscribed browser of userID.
// Errors are logged, not returned: a failed push must never fail the
// operation that triggered it. Gone endpoints (404/410) are dropped.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	raws, err := s.store.PushSubscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push: load subscriptions user=%s: %v", userID, err)
		return
	}
	if len(raws) == 0 {
		return
	}

	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for _, raw := range raws {
		var sub Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil || sub.Endpoint == "" {
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.vapid)
		if err != nil {
			logger.Errorf("push: send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 404 || resp.StatusCode == 410 {
			if err := s.store.RemovePushSubscription(ctx, userID, raw); err != nil {
				logger.Errorf("push: drop gone subscription user=%s: %v", userID, err)
			}
		}
	}
}

// PublicKey exposes the VAPID public key for the frontend to subscribe with.
func (s *Sender) PublicKey() string {
	return s.vapid.VAPIDPublicKey
}

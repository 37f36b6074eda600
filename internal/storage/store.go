package storage

import "context"

// SessionStore resolves bearer tokens to user ids, keeps display names, and
// keeps web push subscriptions. Implementations: redis.Client, memory.Client
// (for -dev and tests, no Redis required).
type SessionStore interface {
	SaveSession(ctx context.Context, token, userID string) error
	ResolveSession(ctx context.Context, token string) (string, error)
	DeleteSession(ctx context.Context, token string) error
	SaveUserName(ctx context.Context, userID, name string) error
	UserName(ctx context.Context, userID string) (string, error)
	AddPushSubscription(ctx context.Context, userID, subscription string) error
	PushSubscriptions(ctx context.Context, userID string) ([]string, error)
	RemovePushSubscription(ctx context.Context, userID, subscription string) error
	Close() error
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session TTL 30 days; push subscriptions share it so stale browsers age out.
const (
	sessionTTL      = 30 * 24 * time.Hour
	subscriptionTTL = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SaveSession(ctx context.Context, token, userID string) error {
	return c.cli.Set(ctx, "session:"+token, userID, sessionTTL).Err()
}

// ResolveSession returns the user id for a token, or "" when unknown.
func (c *Client) ResolveSession(ctx context.Context, token string) (string, error) {
	val, err := c.cli.Get(ctx, "session:"+token).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSession(ctx context.Context, token string) error {
	return c.cli.Del(ctx, "session:"+token).Err()
}

// SaveUserName records the display name the marketplace knows the user by, so
// message echoes and pushes can carry it.
func (c *Client) SaveUserName(ctx context.Context, userID, name string) error {
	return c.cli.Set(ctx, "user:name:"+userID, name, sessionTTL).Err()
}

// UserName returns the stored display name, or "" when none is known.
func (c *Client) UserName(ctx context.Context, userID string) (string, error) {
	val, err := c.cli.Get(ctx, "user:name:"+userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// AddPushSubscription stores a serialized browser subscription in the user's
// set and refreshes the set's TTL.
func (c *Client) AddPushSubscription(ctx context.Context, userID, subscription string) error {
	key := "push:subs:" + userID
	if err := c.cli.SAdd(ctx, key, subscription).Err(); err != nil {
		return err
	}
	return c.cli.Expire(ctx, key, subscriptionTTL).Err()
}

func (c *Client) PushSubscriptions(ctx context.Context, userID string) ([]string, error) {
	return c.cli.SMembers(ctx, "push:subs:"+userID).Result()
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, subscription string) error {
	return c.cli.SRem(ctx, "push:subs:"+userID, subscription).Err()
}

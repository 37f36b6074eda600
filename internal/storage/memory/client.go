package memory

import (
	"context"
	"sync"
	"time"
)

const sessionTTL = 30 * 24 * time.Hour

type item struct {
	val string
	exp time.Time
}

type Client struct {
	mu       sync.RWMutex
	sessions map[string]item
	names    map[string]string
	subs     map[string]map[string]struct{}
}

func New() *Client {
	return &Client{
		sessions: make(map[string]item),
		names:    make(map[string]string),
		subs:     make(map[string]map[string]struct{}),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SaveSession(ctx context.Context, token, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[token] = item{val: userID, exp: time.Now().Add(sessionTTL)}
	return nil
}

func (c *Client) ResolveSession(ctx context.Context, token string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[token]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteSession(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, token)
	return nil
}

func (c *Client) SaveUserName(ctx context.Context, userID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[userID] = name
	return nil
}

func (c *Client) UserName(ctx context.Context, userID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.names[userID], nil
}

func (c *Client) AddPushSubscription(ctx context.Context, userID, subscription string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[userID]; !ok {
		c.subs[userID] = make(map[string]struct{})
	}
	c.subs[userID][subscription] = struct{}{}
	return nil
}

func (c *Client) PushSubscriptions(ctx context.Context, userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs[userID]))
	for s := range c.subs[userID] {
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, subscription string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.subs[userID]; ok {
		delete(set, subscription)
		if len(set) == 0 {
			delete(c.subs, userID)
		}
	}
	return nil
}

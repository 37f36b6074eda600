// Package rest is the request/response fallback for operations the push
// channel normally carries, plus the initial-load fetches.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/garland/internal/model"
)

// Client talks to the gateway's REST endpoints. All methods are idempotent
// server-side; the HTTP client's own timeout is the only timeout layer.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("gateway %s %s: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// MarkRead marks one notification read over REST.
func (c *Client) MarkRead(ctx context.Context, notificationID string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(notificationID)+"/read", nil)
}

// MarkAllRead marks every notification of the session user read over REST.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil)
}

// Notifications fetches the full notification list (initial load and the
// refetch after a REST-path read-state change).
func (c *Client) Notifications(ctx context.Context) ([]model.Notification, error) {
	var list []model.Notification
	if err := c.do(ctx, http.MethodGet, "/api/notifications", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// History fetches chat history. counterpartyID may be empty: a provider loads
// all of their conversations at once.
func (c *Client) History(ctx context.Context, counterpartyID string) ([]model.ChatMessage, error) {
	path := "/api/chat/history"
	if counterpartyID != "" {
		path += "?with=" + url.QueryEscape(counterpartyID)
	}
	var list []model.ChatMessage
	if err := c.do(ctx, http.MethodGet, path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

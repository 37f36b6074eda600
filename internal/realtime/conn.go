// Package realtime is the client side of the push channel: one WebSocket
// connection per authenticated user, a typed event multiplexer on top of it,
// and a fixed-delay reconnect policy. Transport failures are never surfaced
// to consumers directly; callers degrade to the REST fallback instead.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/garland/internal/logger"
	"github.com/garland/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	sendBufSize = 64
	dialTimeout = 10 * time.Second
)

// State is the connection lifecycle state. Owned exclusively by Conn;
// consumers only ever read it.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

var (
	// ErrConnection wraps any failure to establish the push channel.
	ErrConnection = errors.New("realtime: connect failed")
	// ErrNotConnected is returned by Send when no session is live.
	ErrNotConnected = errors.New("realtime: not connected")
)

// Options configures a Conn.
type Options struct {
	// URL is the push channel endpoint (ws:// or wss://).
	URL string
	// Token authenticates the handshake (sent as a query parameter).
	Token string
	// RetryDelay is the fixed wait before a scheduled reconnect. Default 5s.
	RetryDelay time.Duration
	// RetryAttempts is how many reconnects one drop may schedule in
	// sequence before the state goes to Failed. Default 1.
	RetryAttempts int
	// Dialer overrides websocket.DefaultDialer (tests).
	Dialer *websocket.Dialer
}

// session is one live socket with its pumps.
type session struct {
	ws   *websocket.Conn
	send chan protocol.Frame
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.stop)
		s.ws.Close()
	})
}

// attempt lets concurrent Connect callers join an in-flight dial instead of
// opening a second connection.
type attempt struct {
	done chan struct{}
	err  error
}

// Conn owns the single push connection of one user session. Only Conn opens
// or closes the socket; UI-facing code goes through Connect/Disconnect/Send.
type Conn struct {
	opts Options
	mux  *Mux

	mu           sync.Mutex
	state        State
	userID       string
	gen          uint64 // bumped on every Connect/Disconnect; stale dials and retries check it
	sess         *session
	inflight     *attempt
	retryPending bool
	retriesLeft  int
}

func NewConn(opts Options, mux *Mux) *Conn {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	return &Conn{opts: opts, mux: mux, retriesLeft: opts.RetryAttempts}
}

// Mux returns the event multiplexer bound to this connection.
func (c *Conn) Mux() *Mux { return c.mux }

// IsConnected reports whether a session is currently live.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State returns a snapshot of the connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the push channel for userID. Idempotent: if a session
// for the same user is connected it returns immediately, and if one is being
// established the caller joins that attempt instead of dialing again.
// An empty userID fails with ErrConnection and schedules nothing.
func (c *Conn) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id required", ErrConnection)
	}

	c.mu.Lock()
	if c.userID == userID {
		switch c.state {
		case StateConnected:
			c.mu.Unlock()
			return nil
		case StateConnecting:
			att := c.inflight
			c.mu.Unlock()
			<-att.done
			return att.err
		}
	}
	// New session: supersede whatever is there (covers logout/login and
	// manual reconnect during a retry window).
	old := c.sess
	c.sess = nil
	c.gen++
	gen := c.gen
	c.userID = userID
	c.state = StateConnecting
	att := &attempt{done: make(chan struct{})}
	c.inflight = att
	c.mu.Unlock()

	if old != nil {
		old.close()
		old.wg.Wait()
	}

	att.err = c.dial(ctx, gen, userID)
	close(att.done)
	return att.err
}

func (c *Conn) dial(ctx context.Context, gen uint64, userID string) error {
	d := c.opts.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	endpoint := c.opts.URL
	if c.opts.Token != "" {
		sep := "?"
		if u, err := url.Parse(endpoint); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		endpoint += sep + "token=" + url.QueryEscape(c.opts.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ws, _, err := d.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateFailed
			c.scheduleRetryLocked(userID)
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, c.opts.URL, err)
	}

	sess := &session{
		ws:   ws,
		send: make(chan protocol.Frame, sendBufSize),
		stop: make(chan struct{}),
	}

	c.mu.Lock()
	if c.gen != gen {
		// A newer Connect or Disconnect superseded this dial.
		c.mu.Unlock()
		ws.Close()
		return fmt.Errorf("%w: superseded", ErrConnection)
	}
	c.sess = sess
	c.state = StateConnected
	c.retriesLeft = c.opts.RetryAttempts
	c.mu.Unlock()

	sess.wg.Add(2)
	go c.readPump(sess, gen, userID)
	go c.writePump(sess, userID)
	return nil
}

// Disconnect tears down the active session. Safe to call when already
// disconnected; cancels any pending retry.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.userID = ""
	c.state = StateDisconnected
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		sess.close()
		sess.wg.Wait()
	}
}

// Send queues an outbound frame. The intent is acknowledged asynchronously by
// an echoed event, never by this call.
func (c *Conn) Send(f protocol.Frame) error {
	c.mu.Lock()
	sess := c.sess
	state := c.state
	c.mu.Unlock()
	if state != StateConnected || sess == nil {
		return ErrNotConnected
	}
	select {
	case sess.send <- f:
		return nil
	case <-sess.stop:
		return ErrNotConnected
	}
}

// onDrop handles an unexpected read failure of a live session.
func (c *Conn) onDrop(gen uint64, userID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateConnected {
		// Deliberate teardown or already superseded.
		return
	}
	logger.Errorf("realtime: connection dropped user=%s: %v", userID, err)
	c.sess = nil
	c.state = StateReconnecting
	c.scheduleRetryLocked(userID)
}

// scheduleRetryLocked arms at most one retry timer per drop. Callers hold c.mu.
func (c *Conn) scheduleRetryLocked(userID string) {
	if c.retryPending {
		return
	}
	if c.retriesLeft <= 0 {
		c.state = StateFailed
		return
	}
	c.retriesLeft--
	c.retryPending = true
	time.AfterFunc(c.opts.RetryDelay, func() {
		c.mu.Lock()
		c.retryPending = false
		if c.userID != userID || c.state == StateConnected || c.state == StateDisconnected {
			// Logged out, replaced, or already recovered in the meantime.
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		if err := c.Connect(ctx, userID); err != nil {
			logger.Errorf("realtime: reconnect user=%s: %v", userID, err)
		}
	})
}

// readPump reads events and fans them out through the multiplexer. Fan-out is
// synchronous here, which gives in-order delivery per category for free.
func (c *Conn) readPump(sess *session, gen uint64, userID string) {
	defer sess.wg.Done()
	defer sess.close()

	if err := sess.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.onDrop(gen, userID, err)
		return
	}
	sess.ws.SetPongHandler(func(string) error {
		return sess.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			c.onDrop(gen, userID, err)
			return
		}
		var e protocol.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.Errorf("realtime: unmarshal event user=%s: %v", userID, err)
			continue
		}
		c.mux.Dispatch(e)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *Conn) writePump(sess *session, userID string) {
	defer sess.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.close()
	}()

	for {
		select {
		case <-sess.stop:
			if err := sess.ws.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Errorf("realtime: close message user=%s: %v", userID, err)
			}
			return
		case f := <-sess.send:
			if err := sess.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			data, err := json.Marshal(f)
			if err != nil {
				logger.Errorf("realtime: marshal frame user=%s: %v", userID, err)
				continue
			}
			if err := sess.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := sess.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := sess.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

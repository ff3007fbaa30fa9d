// Package transport maintains the client's long-lived signaling
// connection to the relay. Delivery is best effort: a send while
// disconnected is logged and dropped, and the reconnect loop is the only
// recovery mechanism.
package transport

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/worthym330/innovate-calls/internal/core"
	"github.com/worthym330/innovate-calls/internal/signal"
)

// DefaultReconnectBackoff is the fixed delay between reconnect attempts.
const DefaultReconnectBackoff = 3 * time.Second

// Handler receives each deserialized inbound message, in connection
// order.
type Handler func(signal.Message)

type Option func(*Client)

// WithBackoff overrides the reconnect delay. Tests use millisecond
// backoffs.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithDialer supplies a dialer carrying a cookie jar or TLS settings.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client is the signaling transport: one websocket to the relay,
// addressed by the client's own user ID.
type Client struct {
	relayURL string
	backoff  time.Duration
	dialer   *websocket.Dialer

	mu      sync.Mutex
	userID  core.UserID
	conn    *websocket.Conn
	handler Handler
	timer   *time.Timer
	closed  bool
}

func New(relayURL string, opts ...Option) *Client {
	c := &Client{
		relayURL: relayURL,
		backoff:  DefaultReconnectBackoff,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 45 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnMessage registers the inbound handler. Must be called before
// Connect.
func (c *Client) OnMessage(handler Handler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Connect dials the relay addressed by userID and starts the read loop.
// A dial failure schedules a reconnect instead of being returned: once
// Connect is called the transport keeps trying until Close.
func (c *Client) Connect(userID core.UserID) error {
	endpoint, err := c.endpoint(userID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()

	c.dial(endpoint)
	return nil
}

func (c *Client) endpoint(userID core.UserID) (string, error) {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return "", fmt.Errorf("transport: bad relay URL: %w", err)
	}

	q := u.Query()
	q.Set("uuid", userID.String())
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) dial(endpoint string) {
	conn, resp, err := c.dialer.Dial(endpoint, nil)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		log.Error().Err(err).Str("service", "transport").Msg("dial failed")
		c.scheduleReconnect(endpoint)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	log.Info().Str("service", "transport").Msg("connected to relay")

	go c.readLoop(conn, endpoint)
}

func (c *Client) readLoop(conn *websocket.Conn, endpoint string) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()

			if closed {
				return
			}

			log.Warn().Err(err).Str("service", "transport").Msg("connection lost")
			c.scheduleReconnect(endpoint)
			return
		}

		msg, err := signal.FromJSON(raw)
		if err != nil {
			log.Error().Err(err).Str("service", "transport").Msg("drop unparseable message")
			continue
		}

		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()

		if handler != nil {
			handler(msg)
		}
	}
}

func (c *Client) scheduleReconnect(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.timer != nil {
		return
	}

	c.timer = time.AfterFunc(c.backoff, func() {
		c.mu.Lock()
		c.timer = nil
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return
		}
		c.dial(endpoint)
	})
}

// Send serializes and transmits one message. A send while disconnected
// is logged and dropped; the calling layer accepts the loss.
func (c *Client) Send(msg signal.Message) error {
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	// Single writer: the lock also serializes concurrent Send calls.
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		log.Warn().Str("service", "transport").Str("kind", string(msg.GetKind())).Msg("disconnected, message dropped")
		return nil
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Warn().Err(err).Str("service", "transport").Str("kind", string(msg.GetKind())).Msg("write failed, message dropped")
		return nil
	}

	return nil
}

// Close tears the transport down and cancels any pending reconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

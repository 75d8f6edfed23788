// Package transport maintains the bridge's single duplex connection to
// the orchestrator: a websocket client with automatic reconnection,
// capped exponential backoff, and a send cooldown that fails fast instead
// of queuing an unbounded backlog while the link is bad.
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"

	"github.com/voxleap/tether/protocol"
)

// ErrNotConnected reports a send attempted without a live connection.
var ErrNotConnected = errors.New("transport: not connected")

// ErrCooldown reports a send attempted while sending is suspended after
// repeated failures.
var ErrCooldown = errors.New("transport: sending suspended during cooldown")

// Config tunes the client. Zero values take the defaults below.
type Config struct {
	// URL is the orchestrator endpoint (ws:// or wss://).
	URL string

	// Codec frames outbound and inbound messages. Defaults to JSON.
	Codec protocol.Codec

	// HandshakeTimeout bounds the websocket dial. Default 10s.
	HandshakeTimeout time.Duration

	// InitialBackoff and MaxBackoff bound the reconnect delay, which
	// doubles on every consecutive failed dial. Defaults 1s and 30s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// FailureThreshold consecutive send failures within FailureWindow
	// engage the cooldown: sends fail fast until Cooldown elapses.
	// Defaults 3, 30s and 10s.
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
}

func (c Config) withDefaults() Config {
	if c.Codec == nil {
		c.Codec = protocol.JSONCodec{}
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 30 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	return c
}

// Client owns the connection lifetime. Callers never block on
// reconnection; sends during disconnection fail fast.
type Client struct {
	cfg Config
	log commonlog.Logger

	onMessage    func(raw []byte)
	onDisconnect func(err error)

	mu            sync.Mutex
	conn          *websocket.Conn
	failures      int
	windowStart   time.Time
	cooldownUntil time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client. Register callbacks before calling Start.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		log:    commonlog.GetLogger("tether.transport"),
		closed: make(chan struct{}),
	}
}

// OnMessage registers the inbound frame callback. Frames are delivered
// from the read goroutine, one at a time.
func (c *Client) OnMessage(fn func(raw []byte)) {
	c.onMessage = fn
}

// OnDisconnect registers the connection-loss callback.
func (c *Client) OnDisconnect(fn func(err error)) {
	c.onDisconnect = fn
}

// Start launches the connection maintenance loop: dial, read until the
// connection drops, back off, redial. Returns immediately.
func (c *Client) Start() {
	go c.run()
}

// Close shuts the client down and drops the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	})
	return nil
}

// CanSend reports whether a send would be attempted right now: connected
// and not cooling down.
func (c *Client) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !time.Now().Before(c.cooldownUntil)
}

// Send frames and writes one message. Fails fast with ErrNotConnected or
// ErrCooldown instead of queuing. A successful send resets the failure
// counter; repeated failures engage the cooldown.
func (c *Client) Send(v any) error {
	data, err := c.cfg.Codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}

	messageType := websocket.TextMessage
	if c.cfg.Codec.Binary() {
		messageType = websocket.BinaryMessage
	}

	// The lock also serializes writers; gorilla connections allow at
	// most one concurrent writer.
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Before(c.cooldownUntil) {
		return ErrCooldown
	}
	if c.conn == nil {
		return ErrNotConnected
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.recordFailureLocked(now)
		return fmt.Errorf("transport: send: %w", err)
	}
	c.failures = 0
	return nil
}

// recordFailureLocked advances the sliding failure window and engages the
// cooldown once the threshold is crossed.
func (c *Client) recordFailureLocked(now time.Time) {
	if c.failures == 0 || now.Sub(c.windowStart) > c.cfg.FailureWindow {
		c.failures = 0
		c.windowStart = now
	}
	c.failures++
	if c.failures >= c.cfg.FailureThreshold {
		c.cooldownUntil = now.Add(c.cfg.Cooldown)
		c.failures = 0
		c.log.Noticef("%d consecutive send failures, suspending sends for %s",
			c.cfg.FailureThreshold, c.cfg.Cooldown)
	}
}

// run is the connection maintenance loop.
func (c *Client) run() {
	dialer := &websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	backoff := c.cfg.InitialBackoff

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		conn, _, err := dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.log.Warningf("dial %s: %s (retrying in %s)", c.cfg.URL, err, backoff)
			select {
			case <-c.closed:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			continue
		}

		backoff = c.cfg.InitialBackoff
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.log.Infof("connected to %s", c.cfg.URL)

		readErr := c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		select {
		case <-c.closed:
			return
		default:
		}

		c.log.Warningf("connection lost: %s", readErr)
		if c.onDisconnect != nil {
			c.onDisconnect(readErr)
		}
	}
}

// readLoop delivers inbound frames until the connection fails.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

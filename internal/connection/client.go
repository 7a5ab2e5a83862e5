package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens transports. The Manager calls it once per session.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// Transport is a single open socket.
type Transport interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Messages returns a channel of every inbound frame with its receive time.
	Messages() <-chan TimestampedMessage

	// Errors receives at most one error, after which the transport is dead.
	// A clean close by the peer is reported as an error wrapping ErrPeerClosed.
	Errors() <-chan error

	// Close gracefully closes the socket. Safe to call more than once.
	Close() error
}

// wsDialer dials gorilla/websocket connections.
type wsDialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewDialer creates a Dialer backed by gorilla/websocket.
func NewDialer(cfg ClientConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}

	return &wsDialer{cfg: cfg, logger: logger}
}

// Dial performs the handshake and starts the read and heartbeat loops.
func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", redactURL(url), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", redactURL(url), err)
	}

	c := &client{
		cfg:        d.cfg,
		logger:     d.logger,
		conn:       conn,
		messages:   make(chan TimestampedMessage, d.cfg.BufferSize),
		errors:     make(chan error, 1),
		done:       make(chan struct{}),
		lastPingAt: time.Now(),
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if d.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	d.logger.Debug("websocket connected", "url", redactURL(url))

	return c, nil
}

// client implements Transport over a gorilla connection.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu         sync.Mutex
	lastPingAt time.Time
	closed     bool
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrAlreadyClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

func (c *client) fail(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

// readLoop forwards frames until the socket fails or Close is called.
func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("%w: %v", ErrPeerClosed, err)
			}
			c.fail(err)
			return
		}

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop sends keepalive pings and reports stale connections.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(max(c.cfg.WriteTimeout, time.Second))
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}

package actuator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
)

// ErrNotConnected is returned by Send once the connection has dropped.
// The client never re-dials on its own.
var ErrNotConnected = errors.New("actuator not connected")

// Options tunes the connection
type Options struct {
	HandshakeTimeout time.Duration // Bound on the initial connect
	WriteTimeout     time.Duration // Per-send deadline, keeps frame cadence
	PingInterval     time.Duration // Keepalive ping period, 0 disables
}

// DefaultOptions returns the timeouts used by the relay
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     50 * time.Millisecond,
		PingInterval:     15 * time.Second,
	}
}

// Client is a persistent outbound WebSocket connection to the actuator
type Client struct {
	url  string
	opts Options

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	lastErr error

	done chan struct{}
	wg   sync.WaitGroup
}

// Dial opens the connection. ctx and HandshakeTimeout both bound the attempt.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultOptions().HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	logger.Info("Actuator", "Connecting to %s (timeout %s)", url, opts.HandshakeTimeout)
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Client{
		url:  url,
		opts: opts,
		conn: conn,
		done: make(chan struct{}),
	}

	conn.SetPingHandler(func(appData string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.opts.WriteTimeout)); err != nil {
			logger.Debug("Actuator", "Error sending pong: %v", err)
		}
		return nil
	})

	c.wg.Add(1)
	go c.readPump(conn)
	if opts.PingInterval > 0 {
		c.wg.Add(1)
		go c.keepAlive(conn)
	}

	logger.Info("Actuator", "Connected to %s", url)
	return c, nil
}

// URL returns the peer address
func (c *Client) URL() string {
	return c.url
}

// Connected reports whether the connection is still usable
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Err returns the error that dropped the connection, if any
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Send writes one text message. No acknowledgement is awaited.
func (c *Client) Send(payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		c.dropLocked(c.conn, err)
		return fmt.Errorf("error sending %q: %w", payload, err)
	}
	_ = c.conn.SetWriteDeadline(time.Time{})

	return nil
}

// Close sends a close frame and releases the connection. Safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteTimeout),
		)
		err = conn.Close()
	}

	c.wg.Wait()
	return err
}

// dropLocked marks conn dead if it is still the active connection
func (c *Client) dropLocked(conn *websocket.Conn, cause error) {
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.lastErr = cause
	_ = conn.Close()
	logger.Warn("Actuator", "Connection to %s lost: %v", c.url, cause)
}

// readPump services control frames and notices peer-side closes.
// Anything the peer sends is discarded.
func (c *Client) readPump(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.mu.Lock()
			if !c.closed {
				c.dropLocked(conn, err)
			}
			c.mu.Unlock()
			return
		}
	}
}

func (c *Client) keepAlive(conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.opts.WriteTimeout))
			if err != nil {
				c.dropLocked(conn, fmt.Errorf("ping failed: %w", err))
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
		}
	}
}

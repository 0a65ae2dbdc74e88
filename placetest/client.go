package placetest

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is a connection accepted by the test server.
type Client struct {
	ID        string
	User      string
	SessionID string
	Path      string

	conn        *websocket.Conn
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	rateLimiter *rate.Limiter // Rate limiter for incoming messages
}

func newClient(conn *websocket.Conn, id, user, sessionID, path string, opts Options) *Client {
	var limiter *rate.Limiter
	if opts.InboundLimit > 0 {
		limiter = rate.NewLimiter(opts.InboundLimit, opts.InboundBurst)
	}

	c := &Client{
		ID:          id,
		User:        user,
		SessionID:   sessionID,
		Path:        path,
		conn:        conn,
		sendCh:      make(chan []byte, 256),
		rateLimiter: limiter,
	}

	go c.writePump()

	return c
}

// Send queues a text frame. Frames sent to a closed client are discarded.
func (c *Client) Send(text string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	select {
	case c.sendCh <- []byte(text):
	default:
	}
}

// CloseWithCode performs a close handshake with the given code.
func (c *Client) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	message := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))

	close(c.sendCh)
	c.conn.Close()
}

// Drop closes the TCP connection without a close frame, which the peer
// observes as an abnormal closure.
func (c *Client) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
	c.conn.Close()
}

// IsAlive returns true until the client is closed or dropped.
func (c *Client) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Client) allow() bool {
	if c.rateLimiter == nil {
		return true
	}
	return c.rateLimiter.Allow()
}

func (c *Client) writePump() {
	for message := range c.sendCh {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

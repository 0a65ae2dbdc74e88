package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/placenet"
	"github.com/luciancaetano/placenet/internal/protocol"
)

// errWriteFailed marks a transport that ended because the write pump failed.
var errWriteFailed = errors.New(placenet.ErrMsgWriteFailed)

// Conn is one open transport to a single target.
type Conn struct {
	ws         *websocket.Conn
	ctx        context.Context
	cancel     context.CancelFunc
	sendCh     chan []byte
	mu         sync.RWMutex
	closed     bool
	failure    error
	writeWait  time.Duration
	pingPeriod time.Duration
	pongWait   time.Duration
	logger     *slog.Logger
}

// newConn wraps an established websocket and starts its write pump.
func newConn(ws *websocket.Conn, target placenet.Target, cfg Config) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	ws.SetReadLimit(protocol.MaxFrameSize)

	c := &Conn{
		ws:         ws,
		ctx:        ctx,
		cancel:     cancel,
		sendCh:     make(chan []byte, cfg.SendQueueSize),
		writeWait:  cfg.WriteTimeout,
		pingPeriod: cfg.TransportPingPeriod,
		logger:     cfg.Logger.With("conn_id", id, "target", target.Label()),
	}

	// A peer that stops answering transport pings is treated as gone.
	if c.pingPeriod > 0 {
		c.pongWait = c.pingPeriod * 10 / 9
		ws.SetReadDeadline(time.Now().Add(c.pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.pongWait))
		})
	}

	// Start the write pump
	go c.writePump()

	return c
}

// Send queues a frame for the write pump without blocking
func (c *Conn) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return placenet.ErrConnectionClosed
	}

	select {
	case c.sendCh <- data:
		return nil
	default:
		return placenet.ErrSendQueueFull
	}
}

// Close closes the connection with a normal closure code
func (c *Conn) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, placenet.CloseReasonClientClosing)
}

// CloseWithCode sends a close frame with code and reason, then closes the socket
func (c *Conn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	// The close frame goes out before the write pump is told to stop, since
	// the pump closes the socket on its way out.
	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	c.ws.WriteControl(websocket.CloseMessage, message, deadline)

	c.cancel()
	close(c.sendCh)
	return c.ws.Close()
}

// abort releases the socket after the peer already went away.
func (c *Conn) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.sendCh)
	c.ws.Close()
}

// IsAlive returns true if the connection is still active
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// fail records the first write error. The read pump reports it in place of
// the read error the closed socket produces.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = fmt.Errorf("%w: %w", errWriteFailed, err)
	}
	c.mu.Unlock()
}

func (c *Conn) cause(readErr error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.failure != nil {
		return c.failure
	}
	return readErr
}

// readPump delivers inbound frames until the socket fails. deliver runs while
// the connection is known to be open, so nothing is delivered after Close
// returns. closing runs when the peer starts a close handshake. done is only
// called for terminations the client did not initiate.
func (c *Conn) readPump(deliver func(string), closing func(code int), done func(error)) {
	c.ws.SetCloseHandler(func(code int, text string) error {
		if closing != nil {
			closing(code)
		}
		message := websocket.FormatCloseMessage(code, "")
		c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.IsAlive() {
				return
			}
			done(c.cause(err))
			return
		}

		// Reset read deadline after successful read
		if c.pongWait > 0 {
			c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		}

		c.mu.RLock()
		if !c.closed {
			deliver(string(data))
		}
		c.mu.RUnlock()
	}
}

// writePump pumps messages from the send channel to the websocket connection.
// The socket is closed when it returns, which unblocks the read pump.
func (c *Conn) writePump() {
	var tick <-chan time.Time
	if c.pingPeriod > 0 {
		ticker := time.NewTicker(c.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case message, ok := <-c.sendCh:
			if !ok {
				// Channel closed
				return
			}

			c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", "err", err)
				c.fail(err)
				return
			}

		case <-tick:
			// Transport keepalive, independent of the presence heartbeat
			c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("transport ping failed", "err", err)
				c.fail(err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/placenet"
	"github.com/luciancaetano/placenet/internal/metrics"
	"github.com/luciancaetano/placenet/internal/protocol"
)

var _ placenet.ConnectionManager = (*Manager)(nil)

// Manager implements placenet.ConnectionManager.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Collector
	limiter *rate.Limiter
	stream  *Stream
	hb      *Heartbeat

	// state is read and advanced without mu so the read pump can feed
	// message and closing events.
	state atomic.Int32

	// connectMu serializes connects; mu guards everything below it.
	connectMu  sync.Mutex
	mu         sync.Mutex
	target     placenet.Target
	active     *Conn
	cancelDial context.CancelFunc
	closed     bool
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With("component", "connection")
	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(cfg.Registerer),
		limiter: cfg.RateLimit.limiter(),
		hb:      NewHeartbeat(cfg.HeartbeatInterval, logger),
	}
	m.stream = NewStream(cfg.StreamCapacity, m.metrics.FrameDropped)
	return m
}

// Metrics returns the manager's collector.
func (m *Manager) Metrics() *metrics.Collector {
	return m.metrics
}

// Heartbeat exposes the heartbeat controller for observers.
func (m *Manager) Heartbeat() *Heartbeat {
	return m.hb
}

// ConnectLobby opens the lobby presence socket.
func (m *Manager) ConnectLobby(ctx context.Context) {
	m.connect(ctx, placenet.LobbyTarget())
}

// ConnectGame opens the socket of a game session.
func (m *Manager) ConnectGame(ctx context.Context, sessionID string) {
	m.connect(ctx, placenet.GameTarget(sessionID))
}

func (m *Manager) connect(ctx context.Context, target placenet.Target) {
	// A pending dial of an older connect must not hold this one up.
	m.mu.Lock()
	m.abortDialLocked()
	m.mu.Unlock()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.Disconnect()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.apply(evDial)
	m.target = target
	m.cancelDial = cancel
	m.mu.Unlock()

	url := m.cfg.URL(target)
	m.logger.Debug("connecting", "target", target.Label(), "url", url)

	ws, _, err := m.cfg.Dialer.DialContext(dialCtx, url, nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelDial == nil {
		// Disconnect ran while dialing.
		if err == nil {
			ws.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.apply(evFailure)
		m.target = placenet.Target{}
		m.failLocked(target, fmt.Errorf("%s: %w", placenet.ErrMsgDialFailed, err))
		return
	}

	c := newConn(ws, target, m.cfg)
	m.active = c
	m.apply(evOpen)
	m.metrics.Connected(target.Kind.String())
	c.logger.Info("connected")

	go c.readPump(m.deliver, m.closing, func(err error) {
		m.onTerminated(c, err)
	})
	m.hb.Start(target.Label(), m.pinger(c))
}

// Disconnect stops the heartbeat and closes the active transport.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	m.hb.Stop()
	m.abortDialLocked()

	if c := m.active; c != nil {
		m.active = nil
		m.apply(evClosing)
		if err := c.Close(); err != nil {
			c.logger.Debug("close failed", "err", err)
		}
		m.apply(evClosed)
		c.logger.Info("disconnected")
	}
	m.target = placenet.Target{}
}

func (m *Manager) abortDialLocked() {
	if m.cancelDial == nil {
		return
	}
	m.cancelDial()
	m.cancelDial = nil
	m.apply(evClosed)
	m.target = placenet.Target{}
}

// Close disconnects and closes every subscription. The manager cannot be
// reconnected afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.disconnectLocked()
	m.mu.Unlock()

	m.stream.Close()
}

// Send queues a raw text frame on the active transport.
func (m *Manager) Send(text string) error {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()

	if c == nil {
		m.logger.Warn("send without open connection", "frame", text)
		m.metrics.SendDropped(metrics.ReasonNotConnected)
		return placenet.ErrNotConnected
	}

	err := c.Send([]byte(text))
	switch {
	case err == nil:
	case errors.Is(err, placenet.ErrSendQueueFull):
		c.logger.Warn("send queue full, frame dropped")
		m.metrics.SendDropped(metrics.ReasonQueueFull)
	case errors.Is(err, placenet.ErrConnectionClosed):
		c.logger.Warn("send on closing connection")
		m.metrics.SendDropped(metrics.ReasonClosed)
	}
	return err
}

// SendPixel encodes and sends a color_pixel frame.
func (m *Manager) SendPixel(x, y int, color string) error {
	if m.limiter != nil && !m.limiter.Allow() {
		m.logger.Warn("pixel rate limit exceeded", "x", x, "y", y)
		m.metrics.SendDropped(metrics.ReasonRateLimited)
		return placenet.ErrRateLimited
	}
	frame, err := protocol.Encode(protocol.ColorPixel{X: x, Y: y, Color: color})
	if err != nil {
		m.logger.Error(placenet.ErrMsgFailedToEncode, "err", err)
		return fmt.Errorf("%s: %w", placenet.ErrMsgFailedToEncode, err)
	}
	return m.Send(frame)
}

// SendPing sends a bare ping frame.
func (m *Manager) SendPing() error {
	if err := m.Send(protocol.EncodePing()); err != nil {
		return err
	}
	m.metrics.PingSent()
	return nil
}

// Subscribe attaches a consumer to the inbound stream.
func (m *Manager) Subscribe() placenet.Subscription {
	return m.stream.Subscribe()
}

// State returns the lifecycle state.
func (m *Manager) State() placenet.State {
	return placenet.State(m.state.Load())
}

// Target returns the active or in-flight target.
func (m *Manager) Target() placenet.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// pinger returns the heartbeat callback bound to c. It sends on c directly so
// the heartbeat never needs the manager lock.
func (m *Manager) pinger(c *Conn) func() {
	frame := []byte(protocol.EncodePing())
	return func() {
		if err := c.Send(frame); err != nil {
			c.logger.Debug("heartbeat ping not sent", "err", err)
			return
		}
		m.metrics.PingSent()
	}
}

// deliver runs on the read pump under the connection's read lock, so it must
// not take mu.
func (m *Manager) deliver(frame string) {
	m.apply(evMessage)
	m.metrics.FrameReceived()
	m.stream.Publish(frame)
}

// closing runs on the read pump when the server starts a close handshake.
func (m *Manager) closing(code int) {
	m.logger.Debug("server closing", "code", code)
	m.apply(evClosing)
}

// onTerminated handles a transport that ended without Disconnect.
func (m *Manager) onTerminated(c *Conn, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != c {
		return
	}

	m.hb.Stop()
	m.active = nil
	target := m.target
	m.target = placenet.Target{}
	c.abort()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.apply(evClosed)
		c.logger.Info("server closed connection")
		return
	}

	m.apply(evFailure)
	m.failLocked(target, describeFailure(err))
}

// describeFailure prefixes a transport error with the standard message for
// its kind. Close frames other than 1006 carry their own description.
func describeFailure(err error) error {
	var ce *websocket.CloseError
	switch {
	case err == nil, errors.Is(err, errWriteFailed):
		return err
	case errors.As(err, &ce):
		if ce.Code == websocket.CloseAbnormalClosure {
			return fmt.Errorf("%s: %w", placenet.ErrMsgUnexpectedEOF, err)
		}
		return err
	default:
		return fmt.Errorf("%s: %w", placenet.ErrMsgReadFailed, err)
	}
}

// failLocked publishes a synthesized error envelope for target.
func (m *Manager) failLocked(target placenet.Target, err error) {
	msg := placenet.ErrMsgUnknownFailure
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}

	m.metrics.TransportError(target.Kind.String())
	m.logger.Warn("transport failure", "target", target.Label(), "err", msg)
	m.stream.Publish(protocol.EncodeError(target.Label(), msg))
}

// apply feeds ev to the state machine. Events that are invalid in the
// current state are dropped.
func (m *Manager) apply(ev event) {
	for {
		cur := placenet.State(m.state.Load())
		next, ok := transition(cur, ev)
		if !ok {
			m.logger.Debug("ignored state event", "state", cur, "event", ev)
			return
		}
		if !m.state.CompareAndSwap(int32(cur), int32(next)) {
			continue
		}
		m.metrics.StateEvent(ev.String())
		if next != cur {
			m.metrics.SetState(int(next))
		}
		return
	}
}

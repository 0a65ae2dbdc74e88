package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luciancaetano/placenet"
	"github.com/luciancaetano/placenet/internal/protocol"
	"github.com/luciancaetano/placenet/placetest"
)

const waitTimeout = 3 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, hostPort string, mutate ...func(*Config)) (*Manager, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg := Config{
		HostPort:            hostPort,
		UserID:              "alice",
		HeartbeatInterval:   20 * time.Millisecond,
		HandshakeTimeout:    time.Second,
		TransportPingPeriod: -1,
		RateLimit:           NoRateLimit(),
		Logger:              quietLogger(),
		Registerer:          reg,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	m := NewManager(cfg)
	t.Cleanup(m.Close)
	return m, reg
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// nextFrame returns the first frame on sub that satisfies match.
func nextFrame(t *testing.T, sub placenet.Subscription, match func(string) bool) string {
	t.Helper()

	timeout := time.After(waitTimeout)
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				t.Fatal("subscription closed")
			}
			if match(frame) {
				return frame
			}
		case <-timeout:
			t.Fatal("timed out waiting for frame")
		}
	}
}

func isType(want protocol.Type) func(string) bool {
	return func(frame string) bool {
		got, ok := protocol.PeekType(frame)
		return ok && got == want
	}
}

func countPings(srv *placetest.Server, path string) int {
	n := 0
	for _, f := range srv.Frames() {
		if f.Path == path && f.Text == protocol.EncodePing() {
			n++
		}
	}
	return n
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// TestManagerInitialState tests a freshly created manager
func TestManagerInitialState(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, "127.0.0.1:1")

	if m.State() != placenet.StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if m.Target() != (placenet.Target{}) {
		t.Errorf("Target() = %+v, want zero", m.Target())
	}
	if m.Heartbeat().Running() {
		t.Error("heartbeat should not run before connect")
	}
}

// TestManagerDisconnectIdle tests that Disconnect without a connection is a no-op
func TestManagerDisconnectIdle(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, "127.0.0.1:1")
	m.Disconnect()
	m.Disconnect()

	if m.State() != placenet.StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

// TestManagerSendWithoutConnection tests sends with nothing open
func TestManagerSendWithoutConnection(t *testing.T) {
	t.Parallel()

	m, reg := newTestManager(t, "127.0.0.1:1")

	if err := m.Send("hello"); !errors.Is(err, placenet.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if err := m.SendPixel(1, 2, "#FF0000"); !errors.Is(err, placenet.ErrNotConnected) {
		t.Errorf("SendPixel() error = %v, want ErrNotConnected", err)
	}
	if err := m.SendPing(); !errors.Is(err, placenet.ErrNotConnected) {
		t.Errorf("SendPing() error = %v, want ErrNotConnected", err)
	}

	if got := counterValue(t, reg, "placenet_sends_dropped_total", "not_connected"); got != 3 {
		t.Errorf("sends_dropped_total{reason=not_connected} = %v, want 3", got)
	}
}

// TestManagerConnectGame tests the snapshot delivered on a game connect
func TestManagerConnectGame(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()
	srv.CreateSession("room", map[string]string{"1,2": "#FF0000"})

	m, reg := newTestManager(t, srv.HostPort())
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectGame(context.Background(), "room")

	if m.State() != placenet.StateConnected {
		t.Fatalf("State() = %v, want connected", m.State())
	}
	if m.Target() != placenet.GameTarget("room") {
		t.Errorf("Target() = %+v, want game:room", m.Target())
	}

	frame := nextFrame(t, sub, isType(protocol.TypeState))
	st, ok := protocol.DecodeState(frame)
	if !ok {
		t.Fatalf("snapshot did not decode: %s", frame)
	}
	if st.SessionID != "room" {
		t.Errorf("SessionID = %q, want room", st.SessionID)
	}
	if st.Pixels["1,2"] != "#FF0000" {
		t.Errorf("Pixels[1,2] = %q, want #FF0000", st.Pixels["1,2"])
	}
	if len(st.Users) != 1 || st.Users[0] != "alice" {
		t.Errorf("Users = %v, want [alice]", st.Users)
	}

	if got := counterValue(t, reg, "placenet_connects_total", "game"); got != 1 {
		t.Errorf("connects_total{kind=game} = %v, want 1", got)
	}
}

// TestManagerHeartbeat tests presence pings and their stop on disconnect
func TestManagerHeartbeat(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort())
	m.ConnectLobby(context.Background())

	waitUntil(t, "two lobby pings", func() bool { return countPings(srv, "/ws") >= 2 })

	m.Disconnect()
	if m.Heartbeat().Running() {
		t.Error("heartbeat still running after Disconnect")
	}

	waitUntil(t, "server to drop client", func() bool { return len(srv.Clients()) == 0 })
	settled := countPings(srv, "/ws")
	time.Sleep(80 * time.Millisecond)

	if n := countPings(srv, "/ws"); n != settled {
		t.Errorf("%d pings arrived after Disconnect", n-settled)
	}
}

// TestManagerSwitchTarget tests that a new connect replaces the old one
func TestManagerSwitchTarget(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort())

	m.ConnectLobby(context.Background())
	waitUntil(t, "lobby client", func() bool { return len(srv.Clients()) == 1 })

	m.ConnectGame(context.Background(), "room")
	waitUntil(t, "single game client", func() bool {
		clients := srv.Clients()
		return len(clients) == 1 && clients[0].Path == "/game_ws"
	})

	if m.Target() != placenet.GameTarget("room") {
		t.Errorf("Target() = %+v, want game:room", m.Target())
	}
	if !m.Heartbeat().Running() {
		t.Error("heartbeat should run for the new target")
	}

	waitUntil(t, "game ping", func() bool { return countPings(srv, "/game_ws") >= 1 })
}

// TestManagerConcurrentConnects tests that racing connects leave one transport
func TestManagerConcurrentConnects(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort())

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.ConnectGame(context.Background(), id)
		}(id)
	}
	wg.Wait()

	if m.State() != placenet.StateConnected {
		t.Fatalf("State() = %v, want connected", m.State())
	}

	target := m.Target()
	waitUntil(t, "exactly one server client", func() bool {
		clients := srv.Clients()
		return len(clients) == 1 && clients[0].SessionID == target.SessionID
	})
}

// TestManagerSendPixel tests that painted pixels reach the server and echo back
func TestManagerSendPixel(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort())
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectGame(context.Background(), "room")
	if err := m.SendPixel(3, 4, "#00FF00"); err != nil {
		t.Fatalf("SendPixel() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	ok := srv.WaitFor(ctx, func(s *placetest.Server) bool {
		return s.Pixels("room")["3,4"] == "#00FF00"
	})
	if !ok {
		t.Fatal("server never stored the pixel")
	}

	frame := nextFrame(t, sub, isType(protocol.TypeColorPixel))
	px, ok := protocol.DecodePixel(frame)
	if !ok {
		t.Fatalf("broadcast did not decode: %s", frame)
	}
	if px.X != 3 || px.Y != 4 || px.Color != "#00FF00" || px.User != "alice" {
		t.Errorf("broadcast = %+v", px)
	}
}

// TestManagerRateLimit tests the outbound pixel limiter
func TestManagerRateLimit(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, reg := newTestManager(t, srv.HostPort(), func(c *Config) {
		c.RateLimit = &RateLimitConfig{PixelsPerSecond: 0.1, Burst: 2, Enabled: true}
	})
	m.ConnectGame(context.Background(), "room")

	for i := 0; i < 2; i++ {
		if err := m.SendPixel(i, 0, "#000000"); err != nil {
			t.Fatalf("SendPixel(%d) error = %v", i, err)
		}
	}
	if err := m.SendPixel(2, 0, "#000000"); !errors.Is(err, placenet.ErrRateLimited) {
		t.Errorf("third SendPixel() error = %v, want ErrRateLimited", err)
	}

	// Pings are not rate limited.
	if err := m.SendPing(); err != nil {
		t.Errorf("SendPing() error = %v", err)
	}

	if got := counterValue(t, reg, "placenet_sends_dropped_total", "rate_limited"); got != 1 {
		t.Errorf("sends_dropped_total{reason=rate_limited} = %v, want 1", got)
	}
}

// TestManagerDialFailure tests the error envelope synthesized for a failed dial
func TestManagerDialFailure(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	hostPort := srv.HostPort()
	srv.Close()

	m, reg := newTestManager(t, hostPort)
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectLobby(context.Background())

	frame := nextFrame(t, sub, isType(protocol.TypeError))
	e, ok := protocol.DecodeError(frame)
	if !ok {
		t.Fatalf("error frame did not decode: %s", frame)
	}
	if e.Where != "lobby" {
		t.Errorf("Where = %q, want lobby", e.Where)
	}
	if !strings.HasPrefix(e.Err, placenet.ErrMsgDialFailed) {
		t.Errorf("Err = %q, want %q prefix", e.Err, placenet.ErrMsgDialFailed)
	}

	if m.State() != placenet.StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
	if m.Heartbeat().Running() {
		t.Error("heartbeat must not start after a failed dial")
	}
	if got := counterValue(t, reg, "placenet_transport_errors_total", "lobby"); got != 1 {
		t.Errorf("transport_errors_total{kind=lobby} = %v, want 1", got)
	}
}

// TestManagerAbnormalClose tests that a dropped transport becomes an error frame
func TestManagerAbnormalClose(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort())
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectGame(context.Background(), "room")
	waitUntil(t, "server client", func() bool { return len(srv.Clients()) == 1 })
	srv.Clients()[0].Drop()

	frame := nextFrame(t, sub, isType(protocol.TypeError))
	e, _ := protocol.DecodeError(frame)
	if e.Where != "game:room" {
		t.Errorf("Where = %q, want game:room", e.Where)
	}
	if e.Err == "" {
		t.Error("Err should describe the failure")
	}

	waitUntil(t, "disconnected state", func() bool { return m.State() == placenet.StateDisconnected })
	if m.Heartbeat().Running() {
		t.Error("heartbeat should stop when the transport fails")
	}
	if err := m.Send("x"); !errors.Is(err, placenet.ErrNotConnected) {
		t.Errorf("Send() after failure error = %v, want ErrNotConnected", err)
	}
}

// TestManagerPolicyClose tests that a non-normal close code is reported
func TestManagerPolicyClose(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort())
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectLobby(context.Background())
	waitUntil(t, "server client", func() bool { return len(srv.Clients()) == 1 })
	srv.Clients()[0].CloseWithCode(websocket.ClosePolicyViolation, "go away")

	frame := nextFrame(t, sub, isType(protocol.TypeError))
	e, _ := protocol.DecodeError(frame)
	if e.Where != "lobby" {
		t.Errorf("Where = %q, want lobby", e.Where)
	}
}

// TestManagerNormalServerClose tests that a clean close publishes nothing
func TestManagerNormalServerClose(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer(placetest.WithoutSnapshot())
	defer srv.Close()

	m, reg := newTestManager(t, srv.HostPort())
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectLobby(context.Background())
	waitUntil(t, "server client", func() bool { return len(srv.Clients()) == 1 })
	srv.Clients()[0].CloseWithCode(websocket.CloseNormalClosure, "")

	waitUntil(t, "disconnected state", func() bool { return m.State() == placenet.StateDisconnected })

	select {
	case frame := <-sub.Frames():
		t.Errorf("unexpected frame after normal close: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}

	if got := counterValue(t, reg, "placenet_state_events_total", "closing"); got != 1 {
		t.Errorf("state_events_total{event=closing} = %v, want 1", got)
	}
}

// TestManagerNoDeliveryAfterDisconnect tests that Disconnect silences the stream
func TestManagerNoDeliveryAfterDisconnect(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort())
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectGame(context.Background(), "room")
	nextFrame(t, sub, isType(protocol.TypeState))

	m.Disconnect()
	srv.Broadcast("room", protocol.EncodePixel(0, 0, "#123456"))

	select {
	case frame := <-sub.Frames():
		t.Errorf("frame delivered after Disconnect: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
	if m.State() != placenet.StateDisconnected {
		t.Errorf("State() = %v, want disconnected", m.State())
	}
}

// TestManagerClose tests that Close ends subscriptions and refuses new connects
func TestManagerClose(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort())
	sub := m.Subscribe()

	m.ConnectLobby(context.Background())
	m.Close()

	// Buffered frames drain first, then the channel must be closed.
	for range sub.Frames() {
	}

	m.ConnectLobby(context.Background())
	if m.State() != placenet.StateDisconnected {
		t.Errorf("State() = %v after Close, want disconnected", m.State())
	}
	waitUntil(t, "server to drop client", func() bool { return len(srv.Clients()) == 0 })
}

// TestManagerStalledPeerWrites tests that a peer which stops reading ends the
// connection once a write times out
func TestManagerStalledPeerWrites(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer(placetest.WithStalledReads())
	defer srv.Close()

	m, reg := newTestManager(t, srv.HostPort(), func(c *Config) {
		c.WriteTimeout = 50 * time.Millisecond
		c.SendQueueSize = 4
	})
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectLobby(context.Background())
	if m.State() != placenet.StateConnected {
		t.Fatalf("State() = %v, want connected", m.State())
	}

	// Fill the socket buffers until a write misses its deadline.
	big := strings.Repeat("x", 1<<20)
	deadline := time.Now().Add(10 * time.Second)
	var frame string
	for frame == "" {
		if time.Now().After(deadline) {
			t.Fatalf("no error frame after stalled writes, state = %v", m.State())
		}
		_ = m.Send(big)

		select {
		case f := <-sub.Frames():
			if isType(protocol.TypeError)(f) {
				frame = f
			}
		case <-time.After(10 * time.Millisecond):
		}
	}

	e, ok := protocol.DecodeError(frame)
	if !ok {
		t.Fatalf("error frame did not decode: %s", frame)
	}
	if e.Where != "lobby" {
		t.Errorf("Where = %q, want lobby", e.Where)
	}
	if !strings.HasPrefix(e.Err, placenet.ErrMsgWriteFailed) {
		t.Errorf("Err = %q, want %q prefix", e.Err, placenet.ErrMsgWriteFailed)
	}

	waitUntil(t, "disconnected state", func() bool { return m.State() == placenet.StateDisconnected })
	if m.Heartbeat().Running() {
		t.Error("heartbeat still running after the write failure")
	}
	if err := m.Send("x"); !errors.Is(err, placenet.ErrNotConnected) {
		t.Errorf("Send() after write failure error = %v, want ErrNotConnected", err)
	}
	if got := counterValue(t, reg, "placenet_transport_errors_total", "lobby"); got != 1 {
		t.Errorf("transport_errors_total{kind=lobby} = %v, want 1", got)
	}
}

// TestManagerPongTimeout tests that a peer which never answers transport pings
// is reported as failed
func TestManagerPongTimeout(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer(placetest.WithStalledReads())
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort(), func(c *Config) {
		c.TransportPingPeriod = 30 * time.Millisecond
	})
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectGame(context.Background(), "room")

	frame := nextFrame(t, sub, isType(protocol.TypeError))
	e, _ := protocol.DecodeError(frame)
	if e.Where != "game:room" {
		t.Errorf("Where = %q, want game:room", e.Where)
	}
	if !strings.HasPrefix(e.Err, placenet.ErrMsgReadFailed) {
		t.Errorf("Err = %q, want %q prefix", e.Err, placenet.ErrMsgReadFailed)
	}

	waitUntil(t, "disconnected state", func() bool { return m.State() == placenet.StateDisconnected })
	if m.Heartbeat().Running() {
		t.Error("heartbeat still running after the pong timeout")
	}
}

// TestManagerTransportPingKeepsAlive tests that answered transport pings keep
// an idle connection open past the pong wait
func TestManagerTransportPingKeepsAlive(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, _ := newTestManager(t, srv.HostPort(), func(c *Config) {
		c.HeartbeatInterval = time.Hour
		c.TransportPingPeriod = 30 * time.Millisecond
	})
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectLobby(context.Background())
	time.Sleep(200 * time.Millisecond)

	if m.State() != placenet.StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}
	select {
	case frame := <-sub.Frames():
		t.Errorf("unexpected frame on a healthy connection: %s", frame)
	default:
	}
}

// TestManagerStateEvents tests that message and closing events reach the
// state machine
func TestManagerStateEvents(t *testing.T) {
	t.Parallel()

	srv := placetest.NewServer()
	defer srv.Close()

	m, reg := newTestManager(t, srv.HostPort())
	sub := m.Subscribe()
	defer sub.Close()

	m.ConnectGame(context.Background(), "room")
	nextFrame(t, sub, isType(protocol.TypeState))

	if got := counterValue(t, reg, "placenet_state_events_total", "message"); got < 1 {
		t.Errorf("state_events_total{event=message} = %v, want >= 1", got)
	}
	if m.State() != placenet.StateConnected {
		t.Errorf("State() = %v, want connected", m.State())
	}

	m.Disconnect()

	for _, ev := range []string{"dial", "open", "closed"} {
		if got := counterValue(t, reg, "placenet_state_events_total", ev); got != 1 {
			t.Errorf("state_events_total{event=%s} = %v, want 1", ev, got)
		}
	}
	// The server's close reply may also be seen before the socket is released.
	if got := counterValue(t, reg, "placenet_state_events_total", "closing"); got < 1 {
		t.Errorf("state_events_total{event=closing} = %v, want >= 1", got)
	}
}

// TestDescribeFailure tests the standard prefixes of synthesized error messages
func TestDescribeFailure(t *testing.T) {
	t.Parallel()

	writeErr := fmt.Errorf("%w: %w", errWriteFailed, io.ErrClosedPipe)

	tests := []struct {
		name       string
		err        error
		wantPrefix string
		wantIs     error
	}{
		{
			name:       "abnormal closure",
			err:        &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: io.ErrUnexpectedEOF.Error()},
			wantPrefix: placenet.ErrMsgUnexpectedEOF,
		},
		{
			name:       "policy close keeps its description",
			err:        &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "go away"},
			wantPrefix: "websocket: close 1008",
		},
		{
			name:       "read error",
			err:        errors.New("i/o timeout"),
			wantPrefix: placenet.ErrMsgReadFailed,
		},
		{
			name:       "write failure is kept",
			err:        writeErr,
			wantPrefix: placenet.ErrMsgWriteFailed,
			wantIs:     io.ErrClosedPipe,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := describeFailure(tt.err)
			if !strings.HasPrefix(got.Error(), tt.wantPrefix) {
				t.Errorf("describeFailure() = %q, want %q prefix", got, tt.wantPrefix)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("describeFailure() = %v, does not wrap %v", got, tt.err)
			}
			if tt.wantIs != nil && !errors.Is(got, tt.wantIs) {
				t.Errorf("describeFailure() = %v, does not wrap %v", got, tt.wantIs)
			}
		})
	}

	if describeFailure(nil) != nil {
		t.Error("describeFailure(nil) should be nil")
	}
}

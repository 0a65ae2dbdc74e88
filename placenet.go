package placenet

import (
	"context"
	"strings"
)

// ConnectionManager owns the single live WebSocket transport of a canvas client.
//
// A manager talks to one of two logical targets at a time: the lobby presence
// endpoint or a game session endpoint. Opening a new target always closes the
// previous one first, so callers never have to disconnect by hand before
// switching screens.
//
// Transport failures are never returned from the connect methods. They are
// delivered as synthesized error envelopes on the inbound stream, the same
// channel normal traffic arrives on.
//
// Example usage:
//
//	import "github.com/luciancaetano/placenet/ws"
//
//	mgr := ws.New(ws.NewConfig("localhost:8080", "alice", ws.DefaultRateLimitConfig()))
//	defer mgr.Disconnect()
//
//	sub := mgr.Subscribe()
//	defer sub.Close()
//
//	mgr.ConnectGame(ctx, "my-session")
//	for frame := range sub.Frames() {
//	    log.Println(frame)
//	}
type ConnectionManager interface {
	// ConnectLobby opens the lobby presence socket for the configured user.
	//
	// Any previous connection is closed first. The heartbeat starts once the
	// transport is open.
	ConnectLobby(ctx context.Context)

	// ConnectGame opens the session-scoped socket for sessionID.
	//
	// Any previous connection is closed first. The heartbeat starts once the
	// transport is open.
	ConnectGame(ctx context.Context, sessionID string)

	// Disconnect stops the heartbeat and closes the active transport with a
	// normal closure code. It is safe to call when nothing is connected and
	// safe to call repeatedly.
	//
	// Once Disconnect returns no further heartbeat pings are sent and no
	// further frames from the closed transport reach subscribers.
	Disconnect()

	// Close disconnects and closes every subscription. A closed manager
	// ignores further connect calls.
	Close()

	// Send queues a raw text frame on the active transport.
	//
	// Returns ErrNotConnected when no transport is open. The call never blocks
	// on the network.
	Send(text string) error

	// SendPixel encodes a color_pixel envelope and sends it.
	//
	// Returns ErrRateLimited when the outbound pixel limiter refuses the write.
	SendPixel(x, y int, color string) error

	// SendPing sends a bare ping envelope.
	SendPing() error

	// Subscribe attaches a new consumer to the inbound frame stream.
	//
	// Subscribers only see frames published after they attach. Each
	// subscriber has its own bounded buffer; when it is full the oldest
	// buffered frame is discarded.
	Subscribe() Subscription

	// State reports the current lifecycle state of the manager.
	State() State

	// Target reports the target of the active or in-flight connection.
	// It is the zero Target when disconnected.
	Target() Target
}

// Subscription is one consumer's view of the inbound frame stream.
type Subscription interface {
	// Frames returns the channel raw text frames are delivered on. It is
	// closed when the subscription is closed.
	Frames() <-chan string

	// Dropped returns how many frames were discarded because this
	// subscriber fell behind.
	Dropped() uint64

	// Close detaches the subscription. Safe to call more than once.
	Close()
}

// State is the lifecycle state of a ConnectionManager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TargetKind distinguishes the lobby socket from a game socket.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetLobby
	TargetGame
)

func (k TargetKind) String() string {
	switch k {
	case TargetLobby:
		return LabelLobby
	case TargetGame:
		return "game"
	default:
		return "none"
	}
}

// Target names a logical connection context.
type Target struct {
	Kind      TargetKind
	SessionID string
}

// LobbyTarget returns the lobby presence target.
func LobbyTarget() Target {
	return Target{Kind: TargetLobby}
}

// GameTarget returns the target for the given game session.
func GameTarget(sessionID string) Target {
	return Target{Kind: TargetGame, SessionID: sessionID}
}

// Label returns the human readable context label: "lobby" or "game:<id>".
// The label is what error envelopes report in their "where" field.
func (t Target) Label() string {
	switch t.Kind {
	case TargetLobby:
		return LabelLobby
	case TargetGame:
		return LabelGamePrefix + t.SessionID
	default:
		return ""
	}
}

// ParseLabel is the inverse of Target.Label.
func ParseLabel(label string) (Target, bool) {
	if label == LabelLobby {
		return LobbyTarget(), true
	}
	if id, ok := strings.CutPrefix(label, LabelGamePrefix); ok {
		return GameTarget(id), true
	}
	return Target{}, false
}

// Session describes the game a client navigated into.
type Session struct {
	ID       string
	HostPort string
	UserID   string
}

// Target returns the game target for the session.
func (s Session) Target() Target {
	return GameTarget(s.ID)
}

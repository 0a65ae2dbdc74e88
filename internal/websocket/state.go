package websocket

import "github.com/luciancaetano/placenet"

// event is a transport lifecycle event fed to the manager's state machine.
type event int

const (
	evDial event = iota
	evOpen
	evMessage
	evClosing
	evClosed
	evFailure
)

func (e event) String() string {
	switch e {
	case evDial:
		return "dial"
	case evOpen:
		return "open"
	case evMessage:
		return "message"
	case evClosing:
		return "closing"
	case evClosed:
		return "closed"
	case evFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// transition returns the state that follows from applying ev in s, and
// whether the transition is valid. Invalid events leave the state unchanged.
//
//	Disconnected --dial-->    Connecting
//	Connecting   --open-->    Connected
//	Connecting   --failure--> Disconnected
//	Connecting   --closed-->  Disconnected   (dial cancelled)
//	Connected    --message--> Connected
//	Connected    --closing--> Connected      (close handshake in progress)
//	Connected    --closed-->  Disconnected
//	Connected    --failure--> Disconnected
func transition(s placenet.State, ev event) (placenet.State, bool) {
	switch s {
	case placenet.StateDisconnected:
		if ev == evDial {
			return placenet.StateConnecting, true
		}
	case placenet.StateConnecting:
		switch ev {
		case evOpen:
			return placenet.StateConnected, true
		case evFailure, evClosed:
			return placenet.StateDisconnected, true
		}
	case placenet.StateConnected:
		switch ev {
		case evMessage, evClosing:
			return placenet.StateConnected, true
		case evClosed, evFailure:
			return placenet.StateDisconnected, true
		}
	}
	return s, false
}

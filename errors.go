package placenet

import (
	"errors"
	"time"
)

// Connection labels.
const (
	LabelLobby      = "lobby"
	LabelGamePrefix = "game:"
)

// Defaults shared by the manager and its heartbeat.
const (
	// DefaultHeartbeatInterval must stay below half of the server's presence TTL.
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultStreamCapacity    = 64
	DefaultSendQueueSize     = 256
	DefaultTransportPing     = 54 * time.Second
	DefaultWriteTimeout      = 10 * time.Second

	CloseReasonClientClosing = "client_closing"
)

// Standard error messages
const (
	// Send errors
	ErrMsgNotConnected   = "no open connection"
	ErrMsgRateLimited    = "pixel rate limit exceeded"
	ErrMsgSendQueueFull  = "send queue full"
	ErrMsgConnectionDone = "connection is closed"
	ErrMsgFailedToEncode = "failed to encode message"

	// Transport errors
	ErrMsgDialFailed     = "dial failed"
	ErrMsgUnexpectedEOF  = "connection closed unexpectedly"
	ErrMsgReadFailed     = "read failed"
	ErrMsgWriteFailed    = "write failed"
	ErrMsgUnknownFailure = "unknown transport failure"
)

var (
	// ErrNotConnected is returned by send operations when no transport is open.
	ErrNotConnected = errors.New(ErrMsgNotConnected)

	// ErrRateLimited is returned by SendPixel when the outbound limiter refuses.
	ErrRateLimited = errors.New(ErrMsgRateLimited)

	// ErrSendQueueFull is returned when the transport's write queue is saturated.
	ErrSendQueueFull = errors.New(ErrMsgSendQueueFull)

	// ErrConnectionClosed is returned when sending on a transport that is shutting down.
	ErrConnectionClosed = errors.New(ErrMsgConnectionDone)
)

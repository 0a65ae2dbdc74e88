// Package placenet is a client library for a collaborative pixel canvas.
//
// A canvas server hosts sessions. Each session is a small grid of colored
// cells that every connected player can paint. Players first sit in a lobby,
// then create or join a session and stay connected to it while they play.
//
// # Architecture
//
// The library has three layers:
//
//   - A ConnectionManager owns the single live WebSocket. It connects either
//     to the lobby presence endpoint or to one game session, sends heartbeat
//     pings while connected and publishes every inbound text frame to its
//     subscribers.
//   - The JSON message codec turns frames into typed envelopes: ping,
//     color_pixel, state and error.
//   - A sync engine consumes the frames of one session and keeps a local
//     grid in step with the server, painting local clicks optimistically.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/placenet/ws"
//	)
//
//	mgr := ws.New(ws.NewConfig("localhost:8080", "alice", ws.DefaultRateLimitConfig()))
//	defer mgr.Close()
//
//	sub := mgr.Subscribe()
//	defer sub.Close()
//
//	mgr.ConnectGame(ctx, "my-session")
//	mgr.SendPixel(1, 2, "#FF0000")
//
//	for frame := range sub.Frames() {
//	    log.Println(frame)
//	}
//
// # Endpoints
//
//	ws://<host:port>/ws?user=<userId>
//	ws://<host:port>/game_ws?session_id=<sessionId>&user=<userId>
//
// Connecting to either endpoint closes the previous connection first, so at
// most one socket is ever open.
//
// # Message Format
//
// Every frame is a JSON object tagged by "type":
//
//	{"type":"ping"}
//	{"type":"color_pixel","x":1,"y":2,"color":"#FF0000"}
//	{"type":"state","session_id":"s1","meta":{...},"users":[...],"pixels":{"x,y":"#RRGGBB"}}
//	{"type":"error","where":"game:s1","err":"..."}
//
// Error frames are also synthesized locally when a dial fails or the socket
// closes abnormally. They arrive on the same stream as server traffic.
//
// # Delivery
//
// Each subscriber buffers up to 64 frames. When a subscriber falls behind,
// the oldest buffered frame is discarded. Frames are never replayed to late
// subscribers.
//
// # Rate Limiting
//
// Outbound pixels go through a token bucket:
//
//	// Default: 20 pixels/second, burst 40
//	cfg := ws.NewConfig(host, user, ws.DefaultRateLimitConfig())
//
//	// Disabled
//	cfg := ws.NewConfig(host, user, ws.NoRateLimit())
//
// A refused pixel returns ErrRateLimited. Pings are never limited.
package placenet

package ws

import (
	"github.com/luciancaetano/placenet"
	"github.com/luciancaetano/placenet/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type Config = websocket.Config
type ClientConfig = *Config

// New creates a disconnected connection manager.
//
// Parameters:
//   - cfg: Connection settings built with NewConfig. Zero durations and
//     sizes fall back to the package defaults.
//
// Example:
//
//	mgr := ws.New(ws.NewConfig("localhost:8080", "alice", ws.DefaultRateLimitConfig()))
//	defer mgr.Close()
//
//	sub := mgr.Subscribe()
//	mgr.ConnectLobby(ctx)
func New(cfg ClientConfig) placenet.ConnectionManager {
	if cfg == nil {
		cfg = &websocket.Config{}
	}
	return websocket.NewManager(*cfg)
}

// NewConfig returns a configuration for the server at hostPort acting as
// userID. The returned value may be adjusted before it is passed to New.
func NewConfig(hostPort, userID string, rateLimitConfig *RateLimitConfig) ClientConfig {
	return &websocket.Config{
		HostPort:  hostPort,
		UserID:    userID,
		RateLimit: rateLimitConfig,
	}
}

// DefaultRateLimitConfig returns the default outbound pixel rate limit
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

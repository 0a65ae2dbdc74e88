package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/placenet"
)

// RateLimitConfig defines the outbound pixel rate limit
type RateLimitConfig struct {
	// PixelsPerSecond defines how many pixels the client may send per second
	PixelsPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 20 pixels per second with burst of 40
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		PixelsPerSecond: 20,
		Burst:           40,
		Enabled:         true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

func (c *RateLimitConfig) limiter() *rate.Limiter {
	if c == nil || !c.Enabled {
		return nil
	}
	return rate.NewLimiter(c.PixelsPerSecond, c.Burst)
}

// Config configures a Manager.
type Config struct {
	// HostPort is the server address without scheme, e.g. "10.0.2.2:8080".
	HostPort string
	// UserID identifies the local user on both endpoints.
	UserID string
	// Secure selects wss:// instead of ws://.
	Secure bool

	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	// TransportPingPeriod is the interval of WebSocket ping frames. Negative
	// disables them.
	TransportPingPeriod time.Duration
	StreamCapacity      int
	SendQueueSize       int

	RateLimit *RateLimitConfig

	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Dialer     *websocket.Dialer
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = placenet.DefaultHeartbeatInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = placenet.DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = placenet.DefaultWriteTimeout
	}
	if c.TransportPingPeriod == 0 {
		c.TransportPingPeriod = placenet.DefaultTransportPing
	}
	if c.StreamCapacity <= 0 {
		c.StreamCapacity = placenet.DefaultStreamCapacity
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = placenet.DefaultSendQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.HandshakeTimeout,
		}
	}
	return c
}

func (c Config) scheme() string {
	if c.Secure {
		return "wss"
	}
	return "ws"
}

// URL returns the endpoint of target: /ws?user=<id> for the lobby and
// /game_ws?session_id=<id>&user=<id> for a game.
func (c Config) URL(target placenet.Target) string {
	u := url.URL{Scheme: c.scheme(), Host: c.HostPort}
	q := url.Values{}
	q.Set("user", c.UserID)

	switch target.Kind {
	case placenet.TargetGame:
		u.Path = "/game_ws"
		q.Set("session_id", target.SessionID)
	default:
		u.Path = "/ws"
	}

	u.RawQuery = q.Encode()
	return u.String()
}

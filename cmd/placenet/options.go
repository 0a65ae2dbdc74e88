package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/luciancaetano/placenet"
	"github.com/luciancaetano/placenet/internal/api"
	"github.com/luciancaetano/placenet/internal/websocket"
)

const (
	envHost = "PLACENET_HOST"
	envUser = "PLACENET_USER"

	defaultHost = "localhost:8080"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	host        string
	user        string
	logLevel    string
	heartbeat   time.Duration
	metricsAddr string
	secure      bool
	noRateLimit bool
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&o.host, "host", envOr(envHost, defaultHost), "Server host:port (env "+envHost+")")
	f.StringVarP(&o.user, "user", "u", os.Getenv(envUser), "User id, random when empty (env "+envUser+")")
	f.StringVar(&o.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	f.DurationVar(&o.heartbeat, "heartbeat", placenet.DefaultHeartbeatInterval, "Presence ping interval")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.BoolVar(&o.secure, "secure", false, "Use wss:// and https://")
	f.BoolVar(&o.noRateLimit, "no-rate-limit", false, "Disable the outbound pixel rate limit")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// userID returns the configured user, generating one on first use.
func (o *globalOptions) userID() string {
	if o.user == "" {
		o.user = uuid.NewString()
	}
	return o.user
}

func (o *globalOptions) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", o.logLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func (o *globalOptions) managerConfig(logger *slog.Logger, reg prometheus.Registerer) websocket.Config {
	rl := websocket.DefaultRateLimitConfig()
	if o.noRateLimit {
		rl = websocket.NoRateLimit()
	}
	return websocket.Config{
		HostPort:          o.host,
		UserID:            o.userID(),
		Secure:            o.secure,
		HeartbeatInterval: o.heartbeat,
		RateLimit:         rl,
		Logger:            logger,
		Registerer:        reg,
	}
}

func (o *globalOptions) apiClient(logger *slog.Logger) *api.Client {
	opts := []api.Option{api.WithLogger(logger)}
	if o.secure {
		opts = append(opts, api.WithSecure())
	}
	return api.New(o.host, opts...)
}

// session describes the game session id as seen by this invocation.
func (o *globalOptions) session(id string) placenet.Session {
	return placenet.Session{ID: id, HostPort: o.host, UserID: o.userID()}
}

// app bundles what every connected command needs.
type app struct {
	logger *slog.Logger
	mgr    *websocket.Manager
}

// start builds the logger and manager, and the metrics endpoint if asked.
// The returned cleanup closes the manager.
func (o *globalOptions) start(ctx context.Context) (*app, func(), error) {
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	mgr := websocket.NewManager(o.managerConfig(logger, reg))

	if o.metricsAddr != "" {
		go serveMetrics(ctx, o.metricsAddr, reg, logger)
	}

	return &app{logger: logger, mgr: mgr}, mgr.Close, nil
}

// serveMetrics exposes reg on /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "err", err)
	}
}

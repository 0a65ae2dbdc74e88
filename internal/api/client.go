// Package api calls the canvas server's session endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/luciancaetano/placenet/internal/api"

	// DefaultTimeout bounds each REST call.
	DefaultTimeout = 10 * time.Second
)

// ErrRequestFailed wraps every failed session call, transport errors and
// non-2xx responses alike.
var ErrRequestFailed = errors.New("session request failed")

// Client creates and joins sessions.
type Client struct {
	base   url.URL
	http   *http.Client
	tracer trace.Tracer
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithSecure switches the client to https.
func WithSecure() Option {
	return func(c *Client) {
		c.base.Scheme = "https"
	}
}

// New creates a client for the server at hostPort, e.g. "10.0.2.2:8080".
func New(hostPort string, opts ...Option) *Client {
	c := &Client{
		base:   url.URL{Scheme: "http", Host: hostPort},
		http:   &http.Client{Timeout: DefaultTimeout},
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")
	return c
}

// CreateSession registers a new session owned by userID.
func (c *Client) CreateSession(ctx context.Context, name, userID string) error {
	return c.post(ctx, "/new_session", url.Values{
		"session_name": {name},
		"user_id":      {userID},
	})
}

// JoinSession adds userID to an existing session.
func (c *Client) JoinSession(ctx context.Context, name, userID string) error {
	return c.post(ctx, "/join_session", url.Values{
		"session_id": {name},
		"user_id":    {userID},
	})
}

func (c *Client) post(ctx context.Context, path string, query url.Values) (err error) {
	u := c.base
	u.Path = path
	u.RawQuery = query.Encode()

	ctx, span := c.tracer.Start(ctx, "POST "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", http.MethodPost),
			attribute.String("url.path", path),
			attribute.String("server.address", c.base.Host),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("session request failed", "path", path, "err", err)
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("session request rejected", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s returned %s", ErrRequestFailed, path, resp.Status)
	}
	c.logger.Debug("session request ok", "path", path, "status", resp.StatusCode)
	return nil
}

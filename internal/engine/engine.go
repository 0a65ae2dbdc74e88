// Package engine applies inbound canvas messages to a local grid and turns
// local paints into outbound pixel frames.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/luciancaetano/placenet"
	"github.com/luciancaetano/placenet/internal/canvas"
	"github.com/luciancaetano/placenet/internal/metrics"
	"github.com/luciancaetano/placenet/internal/protocol"
)

// Outcome tells what Apply did with a frame.
type Outcome int

const (
	Ignored Outcome = iota
	Snapshot
	Pixel
	Error
)

func (o Outcome) String() string {
	switch o {
	case Snapshot:
		return "snapshot"
	case Pixel:
		return "pixel"
	case Error:
		return "error"
	default:
		return "ignored"
	}
}

// Sender is the outbound half of a connection manager.
type Sender interface {
	SendPixel(x, y int, color string) error
}

// Config configures an Engine. Everything but Sender is optional.
type Config struct {
	Grid    *canvas.Grid
	Sender  Sender
	Logger  *slog.Logger
	Metrics *metrics.Collector

	// OnApply runs after every frame handled by Run.
	OnApply func(o Outcome)
	// OnError runs for every error envelope, transport failures included.
	OnError func(e protocol.Error)
	// OnPixel runs for every applied color_pixel frame.
	OnPixel func(px protocol.ColorPixel)
}

// Engine is the single consumer of a session's inbound stream.
type Engine struct {
	grid    *canvas.Grid
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Collector
	onApply func(Outcome)
	onError func(protocol.Error)
	onPixel func(protocol.ColorPixel)
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Grid == nil {
		cfg.Grid = canvas.NewGrid()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &Engine{
		grid:    cfg.Grid,
		sender:  cfg.Sender,
		logger:  cfg.Logger.With("component", "engine"),
		metrics: cfg.Metrics,
		onApply: cfg.OnApply,
		onError: cfg.OnError,
		onPixel: cfg.OnPixel,
	}
}

// Grid returns the grid the engine writes to.
func (e *Engine) Grid() *canvas.Grid {
	return e.grid
}

// Apply decodes one raw frame and applies it.
func (e *Engine) Apply(raw string) Outcome {
	if st, ok := protocol.DecodeState(raw); ok {
		e.applyState(st)
		e.metrics.MessageApplied(string(protocol.TypeState))
		return Snapshot
	}

	if px, ok := protocol.DecodePixel(raw); ok {
		c, valid := canvas.ParseHex(px.Color)
		if !valid {
			e.logger.Debug("invalid pixel color, using background", "x", px.X, "y", px.Y, "color", px.Color)
		}
		e.grid.Set(px.X, px.Y, c)
		e.metrics.MessageApplied(string(protocol.TypeColorPixel))
		if e.onPixel != nil {
			e.onPixel(px)
		}
		return Pixel
	}

	if er, ok := protocol.DecodeError(raw); ok {
		e.logger.Warn("server error", "where", er.Where, "err", er.Err)
		e.metrics.MessageApplied(string(protocol.TypeError))
		if e.onError != nil {
			e.onError(er)
		}
		return Error
	}

	if _, ok := protocol.DecodePing(raw); !ok {
		e.metrics.DecodeFailure()
		e.logger.Debug("undecodable frame", "frame", truncate(raw, 128))
	}
	return Ignored
}

// applyState merges a snapshot into the grid. Cells the snapshot does not
// mention keep their color.
func (e *Engine) applyState(st protocol.State) {
	e.grid.SetMeta(canvas.Meta{
		SessionID: st.SessionID,
		Started:   st.Meta.GameStarted,
		Width:     st.Meta.Width,
		Height:    st.Meta.Height,
		CreatedAt: time.Unix(st.Meta.CreatedAt, 0),
		Users:     st.Users,
	})

	for key, hex := range st.Pixels {
		x, y, ok := protocol.ParsePixelKey(key)
		if !ok {
			e.logger.Debug("skipping malformed pixel key", "key", key)
			continue
		}
		c, _ := canvas.ParseHex(hex)
		e.grid.Set(x, y, c)
	}
}

// Run applies frames from sub in arrival order until ctx is done or the
// subscription is closed. It returns ctx.Err() in the first case and nil in
// the second.
func (e *Engine) Run(ctx context.Context, sub placenet.Subscription) error {
	frames := sub.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-frames:
			if !ok {
				return nil
			}
			o := e.Apply(raw)
			if e.onApply != nil {
				e.onApply(o)
			}
		}
	}
}

// Paint colors a cell locally and sends it to the server. The local write
// is not rolled back when the send fails; the error is returned for display.
func (e *Engine) Paint(x, y int, c canvas.Color) error {
	c = c.Opaque()
	e.grid.Set(x, y, c)

	if e.sender == nil {
		return placenet.ErrNotConnected
	}
	return e.sender.SendPixel(x, y, c.Hex())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

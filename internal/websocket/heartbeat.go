package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Heartbeat sends application-level pings on a fixed interval so the server
// keeps the user's presence marker alive. It is independent of the
// transport-level ping frames the write pump sends.
//
// At most one run is active at a time.
type Heartbeat struct {
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a stopped heartbeat.
func NewHeartbeat(interval time.Duration, logger *slog.Logger) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{interval: interval, logger: logger}
}

// Interval returns the configured ping interval.
func (h *Heartbeat) Interval() time.Duration {
	return h.interval
}

// Start stops any previous run, sends one ping immediately and then one ping
// per interval until Stop is called. ping must not block.
func (h *Heartbeat) Start(label string, ping func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.cancel = cancel
	h.done = done

	go h.run(ctx, done, label, ping)
}

// Stop cancels the active run and waits for it to exit. No ping is sent after
// Stop returns. Stopping a stopped heartbeat is a no-op.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

// Running reports whether a run is active.
func (h *Heartbeat) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

func (h *Heartbeat) stopLocked() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	h.done = nil
}

func (h *Heartbeat) run(ctx context.Context, done chan struct{}, label string, ping func()) {
	defer close(done)

	h.logger.Debug("heartbeat start", "target", label, "interval", h.interval)
	defer h.logger.Debug("heartbeat stop", "target", label)

	// Mark presence right away instead of waiting a full interval.
	ping()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			ping()
		}
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "placenet"

// Reasons a send was dropped.
const (
	ReasonNotConnected = "not_connected"
	ReasonRateLimited  = "rate_limited"
	ReasonQueueFull    = "queue_full"
	ReasonClosed       = "closed"
)

// Collector holds the client's Prometheus instruments.
type Collector struct {
	registry prometheus.Registerer

	framesReceived  prometheus.Counter
	framesDropped   prometheus.Counter
	decodeFailures  prometheus.Counter
	messagesApplied *prometheus.CounterVec
	pingsSent       prometheus.Counter
	connects        *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	sendsDropped    *prometheus.CounterVec
	connectionState prometheus.Gauge
	stateEvents     *prometheus.CounterVec
}

// New registers the client metrics on reg. A nil reg gets a private registry,
// so several clients in one process never collide.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames published to subscribers",
		}),

		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of buffered frames discarded for slow subscribers",
		}),

		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Total number of frames that matched no known message shape",
		}),

		messagesApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_applied_total",
			Help:      "Total number of messages handled by the sync engine",
		}, []string{"type"}),

		pingsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_sent_total",
			Help:      "Total number of heartbeat pings queued",
		}),

		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Total number of successful transport connects",
		}, []string{"kind"}),

		transportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Total number of dial, read or abnormal close failures",
		}, []string{"kind"}),

		sendsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_dropped_total",
			Help:      "Total number of outbound frames that were not queued",
		}, []string{"reason"}),

		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected",
		}),

		stateEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_events_total",
			Help:      "Total number of lifecycle events accepted by the connection state machine",
		}, []string{"event"}),
	}
}

// Registerer returns the registry the collector was registered on.
func (c *Collector) Registerer() prometheus.Registerer {
	return c.registry
}

// FrameReceived counts one published inbound frame.
func (c *Collector) FrameReceived() {
	c.framesReceived.Inc()
}

// FrameDropped counts one discarded buffered frame.
func (c *Collector) FrameDropped() {
	c.framesDropped.Inc()
}

// DecodeFailure counts one unrecognized frame.
func (c *Collector) DecodeFailure() {
	c.decodeFailures.Inc()
}

// MessageApplied counts one handled message of the given type.
func (c *Collector) MessageApplied(msgType string) {
	c.messagesApplied.WithLabelValues(msgType).Inc()
}

// PingSent counts one heartbeat ping.
func (c *Collector) PingSent() {
	c.pingsSent.Inc()
}

// Connected counts one successful connect to a target kind.
func (c *Collector) Connected(kind string) {
	c.connects.WithLabelValues(kind).Inc()
}

// TransportError counts one transport failure on a target kind.
func (c *Collector) TransportError(kind string) {
	c.transportErrors.WithLabelValues(kind).Inc()
}

// SendDropped counts one outbound frame that was not queued.
func (c *Collector) SendDropped(reason string) {
	c.sendsDropped.WithLabelValues(reason).Inc()
}

// SetState records the numeric connection state.
func (c *Collector) SetState(state int) {
	c.connectionState.Set(float64(state))
}

// StateEvent counts one accepted lifecycle event.
func (c *Collector) StateEvent(event string) {
	c.stateEvents.WithLabelValues(event).Inc()
}

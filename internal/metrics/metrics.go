// Package metrics provides Prometheus metrics for the Loxone client.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "loxone"
)

// Metrics contains all Prometheus metrics for a client connection.
type Metrics struct {
	// Connection metrics
	Connected        prometheus.Gauge
	ConnectAttempts  prometheus.Counter
	Disconnects      *prometheus.CounterVec
	HandshakeLatency prometheus.Histogram
	HandshakeErrors  *prometheus.CounterVec

	// Frame-level metrics
	FramesDecoded *prometheus.CounterVec
	FrameErrors   *prometheus.CounterVec
	BytesReceived prometheus.Counter

	// Event-table metrics
	EventsDelivered *prometheus.CounterVec
	EventQueueDepth prometheus.Gauge
	EventsDropped   prometheus.Counter

	// Command/reply metrics
	CommandsSent    prometheus.Counter
	CommandLatency  prometheus.Histogram
	RepliesDropped  prometheus.Counter
	ProtocolErrors  *prometheus.CounterVec

	// Keepalive metrics
	KeepalivesRecv prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against the
// global Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered against the global registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
// Tests typically pass prometheus.NewRegistry() to avoid collisions with
// other instances registered in the same process.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "Whether the client currently holds an open connection to the Miniserver (1) or not (0)",
		}),
		ConnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of connection attempts to the Miniserver",
		}),
		Disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Total disconnections by reason",
		}, []string{"reason"}),
		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Histogram of key-exchange handshake latency",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		HandshakeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_errors_total",
			Help:      "Total handshake errors by type",
		}, []string{"error_type"}),

		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Total header frames decoded by identifier",
		}, []string{"identifier"}),
		FrameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Total frame decode errors by type",
		}, []string{"error_type"}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received from the Miniserver",
		}),

		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Total events delivered to the event sink by table kind",
		}, []string{"kind"}),
		EventQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_queue_depth",
			Help:      "Current number of buffered events awaiting delivery to the event sink",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total events dropped because the event sink was not keeping up",
		}),

		CommandsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Total commands sent to the Miniserver",
		}),
		CommandLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_latency_seconds",
			Help:      "Histogram of command round-trip latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		RepliesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_dropped_total",
			Help:      "Total replies received with no matching pending command",
		}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total protocol-level errors by type",
		}, []string{"error_type"}),

		KeepalivesRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_received_total",
			Help:      "Total keepalive messages received from the Miniserver",
		}),
	}
}

// RecordConnect marks the client as connected and counts the attempt.
func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}
	m.ConnectAttempts.Inc()
	m.Connected.Set(1)
}

// RecordDisconnect marks the client as disconnected and records why.
func (m *Metrics) RecordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.Connected.Set(0)
	m.Disconnects.WithLabelValues(reason).Inc()
}

// RecordHandshake records a completed key-exchange handshake.
func (m *Metrics) RecordHandshake(latencySeconds float64) {
	if m == nil {
		return
	}
	m.HandshakeLatency.Observe(latencySeconds)
}

// RecordHandshakeError records a handshake failure by type.
func (m *Metrics) RecordHandshakeError(errorType string) {
	if m == nil {
		return
	}
	m.HandshakeErrors.WithLabelValues(errorType).Inc()
}

// RecordFrameDecoded records a successfully decoded header frame.
func (m *Metrics) RecordFrameDecoded(identifierName string, payloadBytes int) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(identifierName).Inc()
	m.BytesReceived.Add(float64(payloadBytes))
}

// RecordFrameError records a frame decode failure by type.
func (m *Metrics) RecordFrameError(errorType string) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(errorType).Inc()
}

// RecordEventsDelivered records a batch of events handed to the event sink.
func (m *Metrics) RecordEventsDelivered(kind string, count int) {
	if m == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(kind).Add(float64(count))
}

// SetEventQueueDepth records the dispatcher's current buffered event count.
func (m *Metrics) SetEventQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.EventQueueDepth.Set(float64(depth))
}

// RecordEventsDropped records events discarded because the sink fell behind.
func (m *Metrics) RecordEventsDropped(count int) {
	if m == nil {
		return
	}
	m.EventsDropped.Add(float64(count))
}

// RecordCommandSent records a command dispatched to the Miniserver.
func (m *Metrics) RecordCommandSent() {
	if m == nil {
		return
	}
	m.CommandsSent.Inc()
}

// RecordCommandLatency records the round-trip time of a completed command.
func (m *Metrics) RecordCommandLatency(latencySeconds float64) {
	if m == nil {
		return
	}
	m.CommandLatency.Observe(latencySeconds)
}

// RecordReplyDropped records a reply frame with no matching pending command.
func (m *Metrics) RecordReplyDropped() {
	if m == nil {
		return
	}
	m.RepliesDropped.Inc()
}

// RecordProtocolError records a protocol-level error by type.
func (m *Metrics) RecordProtocolError(errorType string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(errorType).Inc()
}

// RecordKeepaliveRecv records an incoming keepalive frame.
func (m *Metrics) RecordKeepaliveRecv() {
	if m == nil {
		return
	}
	m.KeepalivesRecv.Inc()
}

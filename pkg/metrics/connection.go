package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ServerMetrics provides observability for the request server's connection
// lifecycle and admission control.
type ServerMetrics interface {
	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordRejected counts requests refused before reaching the handler.
	//
	// Parameters:
	//   - reason: Why the request was refused (e.g., "rate_limited", "decode", "handshake")
	RecordRejected(reason string)

	// SetQueueDepth updates the number of requests waiting for a worker.
	SetQueueDepth(depth int)
}

type serverMetrics struct {
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	rejected            *prometheus.CounterVec
	queueDepth          prometheus.Gauge
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled.
func NewServerMetrics() ServerMetrics {
	if !IsEnabled() {
		return NewNoopServerMetrics()
	}

	reg := GetRegistry()

	return &serverMetrics{
		activeConnections: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dittomds_server_active_connections",
			Help: "Current number of client connections",
		})),
		connectionsAccepted: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dittomds_server_connections_accepted_total",
			Help: "Total number of accepted client connections",
		})),
		connectionsClosed: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dittomds_server_connections_closed_total",
			Help: "Total number of closed client connections",
		})),
		rejected: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittomds_server_requests_rejected_total",
				Help: "Requests refused before reaching the handler, by reason",
			},
			[]string{"reason"},
		)),
		queueDepth: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dittomds_server_queue_depth",
			Help: "Requests waiting for a worker",
		})),
	}
}

func (m *serverMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *serverMetrics) RecordRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *serverMetrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// NewNoopServerMetrics returns a ServerMetrics that records nothing.
func NewNoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

type noopServerMetrics struct{}

func (noopServerMetrics) SetActiveConnections(count int32) {}
func (noopServerMetrics) RecordConnectionAccepted()        {}
func (noopServerMetrics) RecordConnectionClosed()          {}
func (noopServerMetrics) RecordRejected(reason string)     {}
func (noopServerMetrics) SetQueueDepth(depth int)          {}

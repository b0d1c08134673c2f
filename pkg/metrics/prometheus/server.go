// Package prometheus provides Prometheus-backed implementations of
// metrics.ServerMetrics and metrics.Sink.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/sharebox/pkg/metrics"
)

// serverMetrics is the Prometheus implementation of metrics.ServerMetrics.
type serverMetrics struct {
	commandsTotal          *prometheus.CounterVec
	commandDuration        *prometheus.HistogramVec
	commandsInFlight       *prometheus.GaugeVec
	bytesTransferred       *prometheus.CounterVec
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	connectionsRejected    *prometheus.CounterVec
}

// NewServerMetrics creates a ServerMetrics on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}
	return newServerMetrics(metrics.GetRegistry())
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	return &serverMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharebox_commands_total",
				Help: "Total number of commands by verb and status",
			},
			[]string{"verb", "status", "error_kind"},
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "sharebox_command_duration_milliseconds",
				Help: "Duration of commands in milliseconds",
				Buckets: []float64{
					1,      // 1ms
					10,     // 10ms
					100,    // 100ms
					1000,   // 1s
					10000,  // 10s
					100000, // 100s
				},
			},
			[]string{"verb"},
		),
		commandsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sharebox_commands_in_flight",
				Help: "Current number of commands being processed",
			},
			[]string{"verb"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharebox_bytes_transferred_total",
				Help: "Total payload bytes moved by uploads and downloads",
			},
			[]string{"direction"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "sharebox_active_connections",
				Help: "Current number of active connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sharebox_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sharebox_connections_closed_total",
				Help: "Total number of connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "sharebox_connections_force_closed_total",
				Help: "Total number of connections force-closed during shutdown timeout",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharebox_connections_rejected_total",
				Help: "Total number of connections refused at admission",
			},
			[]string{"reason"},
		),
	}
}

func (m *serverMetrics) RecordCommand(verb string, duration time.Duration, errorKind string) {
	status := "success"
	if errorKind != "" {
		status = "error"
	}

	m.commandsTotal.WithLabelValues(verb, status, errorKind).Inc()
	m.commandDuration.WithLabelValues(verb).Observe(duration.Seconds() * 1000)
}

func (m *serverMetrics) RecordCommandStart(verb string) {
	m.commandsInFlight.WithLabelValues(verb).Inc()
}

func (m *serverMetrics) RecordCommandEnd(verb string) {
	m.commandsInFlight.WithLabelValues(verb).Dec()
}

func (m *serverMetrics) RecordBytesTransferred(direction string, bytes int64) {
	if bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
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

func (m *serverMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *serverMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/sharebox/pkg/metrics"
)

// actionSink is the Prometheus implementation of metrics.Sink.
type actionSink struct {
	actionsTotal     *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	actionSize       *prometheus.HistogramVec
	transferRate     *prometheus.HistogramVec
	connectionEvents *prometheus.CounterVec
	authResponseTime prometheus.Histogram
}

// NewSink creates a metrics.Sink on the global registry, or a no-op sink when
// metrics are disabled.
func NewSink() metrics.Sink {
	if !metrics.IsEnabled() {
		return metrics.NewNoopSink()
	}
	return newActionSink(metrics.GetRegistry())
}

func newActionSink(reg prometheus.Registerer) *actionSink {
	return &actionSink{
		actionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharebox_actions_total",
				Help: "Total number of client actions by kind and status",
			},
			[]string{"action", "status"},
		),
		actionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sharebox_action_duration_seconds",
				Help:    "Duration of client actions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 10, 6),
			},
			[]string{"action"},
		),
		actionSize: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "sharebox_action_size_bytes",
				Help: "Distribution of upload/download sizes",
				Buckets: []float64{
					4096,      // 4KB
					65536,     // 64KB
					1048576,   // 1MB
					10485760,  // 10MB
					104857600, // 100MB
				},
			},
			[]string{"action"},
		),
		transferRate: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sharebox_transfer_rate_mbps",
				Help:    "Upload/download throughput in MB/s",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"action"},
		),
		connectionEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sharebox_connection_events_total",
				Help: "Connection lifecycle events (connect, disconnect, auth_success, auth_fail)",
			},
			[]string{"event"},
		),
		authResponseTime: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sharebox_auth_response_seconds",
				Help:    "Time spent verifying credentials",
				Buckets: prometheus.ExponentialBuckets(0.0001, 10, 5),
			},
		),
	}
}

func (s *actionSink) RecordAction(kind metrics.ActionKind, _ string, size int64, d time.Duration, _ string, status metrics.Status) {
	action := string(kind)

	s.actionsTotal.WithLabelValues(action, string(status)).Inc()
	s.actionDuration.WithLabelValues(action).Observe(d.Seconds())

	if kind == metrics.ActionUpload || kind == metrics.ActionDownload {
		s.actionSize.WithLabelValues(action).Observe(float64(size))
		if status == metrics.StatusSuccess && d > 0 {
			s.transferRate.WithLabelValues(action).Observe(metrics.Throughput(size, d))
		}
	}
}

func (s *actionSink) RecordConnection(_ string, event metrics.ConnectionEvent, responseTime time.Duration) {
	s.connectionEvents.WithLabelValues(string(event)).Inc()

	if responseTime > 0 && (event == metrics.EventAuthSuccess || event == metrics.EventAuthFail) {
		s.authResponseTime.Observe(responseTime.Seconds())
	}
}

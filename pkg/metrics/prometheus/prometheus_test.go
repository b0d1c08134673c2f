package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/sharebox/pkg/metrics"
)

func TestServerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newServerMetrics(reg)

	m.RecordCommandStart("UPLOAD")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsInFlight.WithLabelValues("UPLOAD")))
	m.RecordCommandEnd("UPLOAD")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.commandsInFlight.WithLabelValues("UPLOAD")))

	m.RecordCommand("UPLOAD", 5*time.Millisecond, "")
	m.RecordCommand("DELETE", time.Millisecond, "lock_conflict")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("UPLOAD", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("DELETE", "error", "lock_conflict")))

	m.RecordBytesTransferred(metrics.DirectionUpload, 12)
	m.RecordBytesTransferred(metrics.DirectionUpload, 0)
	assert.Equal(t, 12.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues(metrics.DirectionUpload)))

	m.SetActiveConnections(3)
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()
	m.RecordConnectionRejected("rate_limit")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsForceClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsRejected.WithLabelValues("rate_limit")))
}

func TestActionSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newActionSink(reg)

	s.RecordAction(metrics.ActionUpload, "TS001.txt", 1<<20, time.Second, "127.0.0.1:5000", metrics.StatusSuccess)
	s.RecordAction(metrics.ActionDelete, "ghost.txt", 0, 0, "127.0.0.1:5000", metrics.StatusFailure)
	s.RecordConnection("127.0.0.1:5000", metrics.EventAuthSuccess, time.Millisecond)
	s.RecordConnection("127.0.0.1:5000", metrics.EventConnect, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.actionsTotal.WithLabelValues("upload", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.actionsTotal.WithLabelValues("delete", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.connectionEvents.WithLabelValues("auth_success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.connectionEvents.WithLabelValues("connect")))

	assert.Equal(t, 1, testutil.CollectAndCount(s.authResponseTime))
}

func TestDisabledReturnsNoop(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("global registry already initialized")
	}
	assert.NotPanics(t, func() {
		NewServerMetrics().RecordConnectionAccepted()
		NewSink().RecordConnection("x", metrics.EventConnect, 0)
	})
}

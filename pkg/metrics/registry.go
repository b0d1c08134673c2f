// Package metrics provides the observability plumbing for sharebox.
//
// Two independent concerns live here:
//
//   - ServerMetrics: Prometheus-style operational metrics for the file server
//     adapter (commands, bytes, connections).
//   - Sink: the action/connection event stream that mirrors what a session
//     does (uploads, downloads, auth results). Sinks can be fanned out, made
//     asynchronous, logged, or persisted to the journal.
//
// All metrics are optional. If the registry is not initialized, constructors
// return no-op implementations with zero overhead.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewServerMetrics()
//	adapter := filesrv.New(cfg, m)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// registry is the global Prometheus registry. Written once by InitRegistry.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// It's safe to call multiple times; subsequent calls are ignored. If never
// called, GetRegistry returns nil and all constructors return no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

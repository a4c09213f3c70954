// Package metrics exposes Prometheus counters and histograms for the
// transfer, batch, and change-feed components of the Remote Client Layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry
	metrics  *Metrics
)

// Init enables metrics collection against a fresh registry. Calling it
// more than once replaces the previous registry; RemoteClient callers hold
// onto the *Metrics returned by Get at construction time, so re-Init after
// a RemoteClient already exists only affects newly-constructed clients.
func Init() *Metrics {
	mu.Lock()
	defer mu.Unlock()
	enabled = true
	registry = prometheus.NewRegistry()
	metrics = newMetrics(registry)
	return metrics
}

// IsEnabled reports whether Init has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Registry returns the active registry, or nil if metrics are disabled.
func Registry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// Get returns the active Metrics, or nil if Init has not been called. A
// nil *Metrics is safe to call every method on: each is a no-op.
func Get() *Metrics {
	mu.Lock()
	defer mu.Unlock()
	return metrics
}

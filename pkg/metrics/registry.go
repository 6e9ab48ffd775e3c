// Package metrics provides Prometheus metrics for shardfs nodes.
//
// Metrics are optional. Until InitRegistry is called every constructor
// returns a no-op implementation, so adapters can record unconditionally.
//
// Usage:
//
//	metrics.InitRegistry()
//	m := metrics.NewNodeMetrics()
//	gw := gateway.New(cfg, table, store, m)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry and registers the Go runtime
// and process collectors. Subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

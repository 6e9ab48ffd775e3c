package config

import (
	"github.com/marmos91/shardfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// NodeMetrics is shared by the gateway and every node (never nil, uses
	// noop if disabled)
	NodeMetrics metrics.NodeMetrics
}

// InitializeMetrics creates the metrics components described by cfg.
//
// If metrics are enabled:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed collectors
//
// If metrics are disabled it returns a nil server and no-op collectors.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			NodeMetrics: metrics.NewNoopNodeMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:      metrics.NewServer(metrics.ServerConfig{Port: cfg.Server.Metrics.Port}),
		NodeMetrics: metrics.NewNodeMetrics(),
	}
}

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction labels for RecordBytes.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// NodeMetrics records per-node request activity. The node label is the
// adapter name ("gateway", "S2", ...), so one instance serves every adapter
// running in a process.
type NodeMetrics interface {
	// RecordCommand records one handled command and its outcome.
	RecordCommand(node, verb string, duration time.Duration, err error)

	// RecordBytes records payload bytes received ("in") or sent ("out").
	RecordBytes(node, direction string, n uint64)

	// RecordForward records one gateway to storage node exchange.
	RecordForward(target, verb string, err error)

	// SetActiveConnections reports the current connection count.
	SetActiveConnections(node string, count int32)

	RecordConnectionAccepted(node string)
	RecordConnectionClosed(node string)
}

type nodeMetrics struct {
	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	bytesTotal          *prometheus.CounterVec
	forwardsTotal       *prometheus.CounterVec
	activeConnections   *prometheus.GaugeVec
	connectionsAccepted *prometheus.CounterVec
	connectionsClosed   *prometheus.CounterVec
}

var (
	sharedNode     NodeMetrics
	sharedNodeOnce sync.Once
)

// NewNodeMetrics returns the process-wide NodeMetrics, or a no-op
// implementation when metrics are disabled. Collectors are registered once,
// so adapters in the same process share them.
func NewNodeMetrics() NodeMetrics {
	if !IsEnabled() {
		return NewNoopNodeMetrics()
	}
	sharedNodeOnce.Do(func() {
		sharedNode = newNodeMetrics(GetRegistry())
	})
	return sharedNode
}

func newNodeMetrics(reg prometheus.Registerer) *nodeMetrics {
	factory := promauto.With(reg)

	return &nodeMetrics{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_commands_total",
				Help: "Total number of commands handled by verb and status",
			},
			[]string{"node", "verb", "status"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shardfs_command_duration_seconds",
				Help:    "Duration of command handling in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"node", "verb"},
		),
		bytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_payload_bytes_total",
				Help: "Total payload bytes moved by direction",
			},
			[]string{"node", "direction"},
		),
		forwardsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_gateway_forwards_total",
				Help: "Total number of requests forwarded to storage nodes",
			},
			[]string{"target", "verb", "status"},
		),
		activeConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shardfs_active_connections",
				Help: "Current number of open client connections",
			},
			[]string{"node"},
		),
		connectionsAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_connections_accepted_total",
				Help: "Total number of connections accepted",
			},
			[]string{"node"},
		),
		connectionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shardfs_connections_closed_total",
				Help: "Total number of connections closed",
			},
			[]string{"node"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *nodeMetrics) RecordCommand(node, verb string, duration time.Duration, err error) {
	m.commandsTotal.WithLabelValues(node, verb, status(err)).Inc()
	m.commandDuration.WithLabelValues(node, verb).Observe(duration.Seconds())
}

func (m *nodeMetrics) RecordBytes(node, direction string, n uint64) {
	m.bytesTotal.WithLabelValues(node, direction).Add(float64(n))
}

func (m *nodeMetrics) RecordForward(target, verb string, err error) {
	m.forwardsTotal.WithLabelValues(target, verb, status(err)).Inc()
}

func (m *nodeMetrics) SetActiveConnections(node string, count int32) {
	m.activeConnections.WithLabelValues(node).Set(float64(count))
}

func (m *nodeMetrics) RecordConnectionAccepted(node string) {
	m.connectionsAccepted.WithLabelValues(node).Inc()
}

func (m *nodeMetrics) RecordConnectionClosed(node string) {
	m.connectionsClosed.WithLabelValues(node).Inc()
}

// NewNoopNodeMetrics returns a NodeMetrics that discards everything.
func NewNoopNodeMetrics() NodeMetrics {
	return noopNodeMetrics{}
}

type noopNodeMetrics struct{}

func (noopNodeMetrics) RecordCommand(node, verb string, duration time.Duration, err error) {}
func (noopNodeMetrics) RecordBytes(node, direction string, n uint64)                       {}
func (noopNodeMetrics) RecordForward(target, verb string, err error)                       {}
func (noopNodeMetrics) SetActiveConnections(node string, count int32)                      {}
func (noopNodeMetrics) RecordConnectionAccepted(node string)                               {}
func (noopNodeMetrics) RecordConnectionClosed(node string)                                 {}

package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/devicewatch/metric"
)

// Metrics holds Prometheus metrics for the stream client
type Metrics struct {
	recordsReceived prometheus.Counter
	parseErrors     prometheus.Counter
	transportErrors prometheus.Counter
	reconnects      prometheus.Counter
	connectsTotal   prometheus.Counter
	connectionState prometheus.Gauge
}

// newMetrics creates and registers stream client metrics
func newMetrics(registry *metric.Registry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		recordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "records_received_total",
			Help:      "Total prediction records received off the live stream",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "parse_errors_total",
			Help:      "Total malformed stream payloads discarded",
		}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "transport_errors_total",
			Help:      "Total transport failures (connect or mid-stream)",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Total reconnection attempts scheduled",
		}),
		connectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "connects_total",
			Help:      "Total successful stream connections",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
		}),
	}

	_ = registry.RegisterCounter(componentName, "records_received", m.recordsReceived)
	_ = registry.RegisterCounter(componentName, "parse_errors", m.parseErrors)
	_ = registry.RegisterCounter(componentName, "transport_errors", m.transportErrors)
	_ = registry.RegisterCounter(componentName, "reconnect_attempts", m.reconnects)
	_ = registry.RegisterCounter(componentName, "connects_total", m.connectsTotal)
	_ = registry.RegisterGauge(componentName, "connection_state", m.connectionState)

	return m
}

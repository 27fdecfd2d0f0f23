package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/devicewatch/metric"
)

// gatewayMetrics holds Prometheus metrics for the HTTP surface
type gatewayMetrics struct {
	requests      *prometheus.CounterVec
	requestErrors prometheus.Counter
	wsClients     prometheus.Gauge
}

// newGatewayMetrics creates and registers gateway metrics
func newGatewayMetrics(registry *metric.Registry) *gatewayMetrics {
	if registry == nil {
		return nil
	}

	m := &gatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total HTTP requests by handler",
		}, []string{"handler"}),
		requestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "request_errors_total",
			Help:      "Total HTTP error responses",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "gateway",
			Name:      "websocket_clients",
			Help:      "Currently connected WebSocket clients",
		}),
	}

	_ = registry.RegisterCounterVec("gateway", "requests", m.requests)
	_ = registry.RegisterCounter("gateway", "request_errors", m.requestErrors)
	_ = registry.RegisterGauge("gateway", "websocket_clients", m.wsClients)

	return m
}

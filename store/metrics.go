package store

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/devicewatch/metric"
)

// storeMetrics holds Prometheus metrics for the read model store
type storeMetrics struct {
	recordsApplied     prometheus.Counter
	snapshotsPublished prometheus.Counter
	queueDropped       prometheus.Counter
	queueDepth         prometheus.Gauge
	devicesResident    prometheus.Gauge
	subscribers        prometheus.Gauge
}

// newStoreMetrics creates and registers store metrics
func newStoreMetrics(registry *metric.Registry) *storeMetrics {
	if registry == nil {
		return nil
	}

	m := &storeMetrics{
		recordsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "records_applied_total",
			Help:      "Total records merged into the collection",
		}),
		snapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "snapshots_published_total",
			Help:      "Total snapshots fanned out to subscribers",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "queue_dropped_total",
			Help:      "Total events shed by the ingest queue under overflow",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "queue_depth",
			Help:      "Current ingest queue depth",
		}),
		devicesResident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "devices_resident",
			Help:      "Devices currently resident in the collection",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "store",
			Name:      "subscribers",
			Help:      "Current snapshot subscribers",
		}),
	}

	_ = registry.RegisterCounter("store", "records_applied", m.recordsApplied)
	_ = registry.RegisterCounter("store", "snapshots_published", m.snapshotsPublished)
	_ = registry.RegisterCounter("store", "queue_dropped", m.queueDropped)
	_ = registry.RegisterGauge("store", "queue_depth", m.queueDepth)
	_ = registry.RegisterGauge("store", "devices_resident", m.devicesResident)
	_ = registry.RegisterGauge("store", "subscribers", m.subscribers)

	return m
}

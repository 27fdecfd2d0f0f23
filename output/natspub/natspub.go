// Package natspub republishes merged prediction records onto a NATS subject so
// downstream consumers (alerting, archival) see the reconciled stream instead
// of the raw upstream feed. Publishing is best-effort: a NATS outage never
// affects ingestion or the read model.
package natspub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/devicewatch/errors"
	"github.com/c360/devicewatch/metric"
	"github.com/c360/devicewatch/store"
)

const (
	// DefaultSubject is used when no subject is configured.
	DefaultSubject = "devicewatch.predictions"

	connectTimeout = 5 * time.Second
	reconnectWait  = 2 * time.Second
)

// Config holds configuration for the NATS republisher.
type Config struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Validate checks the republisher configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig, "natspub", "Validate", "url required")
	}
	return nil
}

// Publisher forwards each newly merged record to NATS.
type Publisher struct {
	config  Config
	store   *store.Store
	logger  *slog.Logger
	metrics *pubMetrics

	conn *nats.Conn

	lifecycleMu sync.Mutex
	started     atomic.Bool
	shutdown    chan struct{}
	cancelSub   func()
	wg          sync.WaitGroup
}

// New creates a publisher over the given store.
func New(config Config, st *store.Store, registry *metric.Registry, logger *slog.Logger) (*Publisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.WrapFatal(
			errors.ErrMissingConfig, "natspub", "New", "store is required")
	}
	if config.Subject == "" {
		config.Subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		config:   config,
		store:    st,
		logger:   logger.With("component", "natspub"),
		metrics:  newPubMetrics(registry),
		shutdown: make(chan struct{}),
	}, nil
}

// Start connects to NATS and begins forwarding merged records. The client
// library handles reconnection; publishes during an outage are dropped and
// counted.
func (p *Publisher) Start(_ context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "natspub", "Start", "check started state")
	}

	conn, err := nats.Connect(p.config.URL,
		nats.Name("devicewatch-publisher"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "natspub", "Start", "connect to nats")
	}
	p.conn = conn

	snapshots, cancel := p.store.Subscribe(16)
	p.cancelSub = cancel

	p.wg.Add(1)
	go p.run(snapshots)

	p.logger.Info("republishing merged records", "subject", p.config.Subject)
	p.started.Store(true)
	return nil
}

// Stop unsubscribes from the store and drains the NATS connection.
func (p *Publisher) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started.Load() {
		return nil
	}

	close(p.shutdown)
	p.cancelSub()

	doneCh := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			errors.ErrConnectionTimeout, "natspub", "Stop", "wait for publish loop")
	}

	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	p.started.Store(false)
	return nil
}

func (p *Publisher) run(snapshots <-chan store.Snapshot) {
	defer p.wg.Done()

	var lastDevice string
	var lastTimestamp time.Time

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			rec := snap.Latest
			if rec == nil {
				continue
			}
			// Snapshots are also published for state and health transitions;
			// only forward when the merged record actually advanced.
			if rec.Device() == lastDevice && rec.Timestamp.Equal(lastTimestamp) {
				continue
			}
			lastDevice = rec.Device()
			lastTimestamp = rec.Timestamp
			p.publish(snap)
		case <-p.shutdown:
			return
		}
	}
}

func (p *Publisher) publish(snap store.Snapshot) {
	payload, err := json.Marshal(snap.Latest)
	if err != nil {
		p.logger.Warn("failed to encode record", "error", err)
		return
	}

	if err := p.conn.Publish(p.config.Subject, payload); err != nil {
		if p.metrics != nil {
			p.metrics.publishErrors.Inc()
		}
		p.logger.Warn("publish failed", "subject", p.config.Subject, "error", err)
		return
	}
	if p.metrics != nil {
		p.metrics.published.Inc()
	}
}

// pubMetrics holds Prometheus metrics for the republisher
type pubMetrics struct {
	published     prometheus.Counter
	publishErrors prometheus.Counter
}

func newPubMetrics(registry *metric.Registry) *pubMetrics {
	if registry == nil {
		return nil
	}

	m := &pubMetrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natspub",
			Name:      "records_published_total",
			Help:      "Total merged records republished to NATS",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natspub",
			Name:      "publish_errors_total",
			Help:      "Total failed publish attempts",
		}),
	}

	_ = registry.RegisterCounter("natspub", "records_published", m.published)
	_ = registry.RegisterCounter("natspub", "publish_errors", m.publishErrors)

	return m
}

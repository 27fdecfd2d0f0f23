// Package service assembles the reconciler: the store's event loop, the SSE
// stream client, the upstream health prober, the HTTP gateway, and the
// optional NATS republisher, wired together with a defined startup and
// teardown order.
package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/devicewatch/apiclient"
	"github.com/c360/devicewatch/config"
	"github.com/c360/devicewatch/errors"
	"github.com/c360/devicewatch/gateway"
	"github.com/c360/devicewatch/health"
	"github.com/c360/devicewatch/metric"
	"github.com/c360/devicewatch/output/natspub"
	"github.com/c360/devicewatch/store"
	"github.com/c360/devicewatch/stream"
)

// stopTimeout bounds how long each component gets during teardown.
const stopTimeout = 5 * time.Second

// component is the common lifecycle shared by everything the reconciler owns.
type component interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

type namedComponent struct {
	name string
	c    component
}

// Reconciler owns the full pipeline from upstream to consumers.
type Reconciler struct {
	config   config.Config
	logger   *slog.Logger
	registry *metric.Registry

	api       *apiclient.Client
	store     *store.Store
	stream    *stream.Client
	prober    *health.Prober
	gateway   *gateway.Server
	publisher *natspub.Publisher

	started atomic.Bool
	mu      sync.Mutex
}

// New assembles a reconciler from configuration. Nothing is started yet.
func New(cfg config.Config, registry *metric.Registry, logger *slog.Logger) (*Reconciler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	api, err := apiclient.New(cfg.API, logger)
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.Store, registry, logger)
	if err != nil {
		return nil, err
	}

	r := &Reconciler{
		config:   cfg,
		logger:   logger.With("component", "reconciler"),
		registry: registry,
		api:      api,
		store:    st,
	}

	// Stream events flow into the store's queue; the store is the only
	// component that touches the read model.
	r.stream, err = stream.NewClient("upstream", cfg.Stream, stream.Handlers{
		OnRecord:     st.ApplyRecord,
		OnState:      st.SetConnectionState,
		OnParseError: st.NoteStreamError,
	}, registry, logger)
	if err != nil {
		return nil, err
	}

	interval := cfg.Health.Interval
	if interval <= 0 {
		interval = health.DefaultInterval
	}
	r.prober, err = health.NewProber("prediction-api", api.Probe, interval, st.SetHealth)
	if err != nil {
		return nil, err
	}

	r.gateway, err = gateway.New(gateway.Config{Listen: cfg.Gateway.Listen}, st, registry,
		gateway.Controls{
			Reconnect: r.Reconnect,
			Refetch:   r.Refetch,
		}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled {
		r.publisher, err = natspub.New(natspub.Config{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
		}, st, registry, logger)
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Store exposes the read model for embedding callers.
func (r *Reconciler) Store() *store.Store {
	return r.store
}

// Run starts every component, seeds the collection from the query API, and
// blocks until the context is cancelled. Teardown runs in reverse dependency
// order: stream first so no new events arrive, the store last so every
// accepted event still lands.
func (r *Reconciler) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started.Load() {
		r.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "reconciler", "Run", "check started state")
	}
	r.started.Store(true)
	r.mu.Unlock()
	defer r.started.Store(false)

	components := []namedComponent{{"store", r.store}}
	if r.publisher != nil {
		// The publisher subscribes to the store, so it starts after it.
		components = append(components, namedComponent{"publisher", r.publisher})
	}
	components = append(components,
		namedComponent{"gateway", r.gateway},
		namedComponent{"prober", r.prober},
		namedComponent{"stream", r.stream},
	)

	var startedComponents []namedComponent
	group, groupCtx := errgroup.WithContext(ctx)

	for _, entry := range components {
		if err := entry.c.Start(groupCtx); err != nil {
			r.stopAll(startedComponents)
			return errors.WrapFatal(err, "reconciler", "Run", "start "+entry.name)
		}
		startedComponents = append(startedComponents, entry)
		r.logger.Info("component started", "name", entry.name)
	}

	// Seed the collection before the first stream records would have merged
	// anyway; a failed seed is not fatal, the stream fills the gap.
	group.Go(func() error {
		if err := r.Refetch(groupCtx); err != nil {
			r.logger.Warn("bootstrap fetch failed, continuing with live stream only",
				"error", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	err := group.Wait()

	r.stopAll(startedComponents)
	return err
}

// stopAll stops components in reverse start order.
func (r *Reconciler) stopAll(started []namedComponent) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].c.Stop(stopTimeout); err != nil {
			r.logger.Warn("component stop failed", "name", started[i].name, "error", err)
		} else {
			r.logger.Info("component stopped", "name", started[i].name)
		}
	}
}

// Reconnect restarts the stream connection with a fresh attempt counter.
func (r *Reconciler) Reconnect() {
	r.logger.Info("operator requested reconnect")
	r.stream.Reconnect()
}

// Refetch re-seeds the collection from the upstream query API. Records arrive
// oldest first so the freshest records survive capacity eviction.
func (r *Reconciler) Refetch(ctx context.Context) error {
	records, err := r.api.FetchPredictions(ctx, apiclient.Query{
		Since: "last24h",
		Limit: apiclient.MaxLimit,
	})
	if err != nil {
		return err
	}

	// The API returns newest first; reverse so Merge sees oldest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	r.store.ApplyRecords(records)
	r.logger.Info("collection seeded from query api", "records", len(records))
	return nil
}

// Snapshot returns the current read model state.
func (r *Reconciler) Snapshot() store.Snapshot {
	return r.store.Snapshot()
}

// Subscribe registers a snapshot consumer on the underlying store.
func (r *Reconciler) Subscribe(depth int) (<-chan store.Snapshot, func()) {
	return r.store.Subscribe(depth)
}

// Package store holds the reconciled read model behind a single-consumer event
// loop. Producers (the stream client, the health prober, the bootstrap fetch)
// enqueue events onto a bounded queue; one goroutine drains it, folds events
// into the next immutable snapshot, and fans the snapshot out to subscribers.
// No component ever mutates shared state directly.
package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/devicewatch/collection"
	"github.com/c360/devicewatch/errors"
	"github.com/c360/devicewatch/health"
	"github.com/c360/devicewatch/metric"
	"github.com/c360/devicewatch/pkg/buffer"
	"github.com/c360/devicewatch/stream"
	"github.com/c360/devicewatch/types"
)

const (
	// DefaultQueueSize bounds the ingest queue between producers and the loop.
	DefaultQueueSize = 256
	// DefaultDrainInterval is how often the loop drains the queue.
	DefaultDrainInterval = 20 * time.Millisecond
	// drainBatchSize caps how many events one tick folds in.
	drainBatchSize = 64
)

// Config holds configuration for the read model store.
type Config struct {
	// Capacity bounds the reconciled collection (records, one per device).
	Capacity int `yaml:"capacity"`
	// QueueSize bounds the ingest queue.
	QueueSize int `yaml:"queue_size"`
	// DrainInterval is the queue drain cadence.
	DrainInterval time.Duration `yaml:"drain_interval"`
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = collection.DefaultCapacity
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = DefaultDrainInterval
	}
	return c
}

// Snapshot is the complete published state at one instant. Values are
// immutable once published.
type Snapshot struct {
	// Collection is the reconciled device collection.
	Collection collection.Collection `json:"-"`
	// Connection is the last observed stream connection status.
	Connection stream.Status `json:"connection"`
	// Health is the last upstream probe result.
	Health health.Status `json:"health"`
	// Latest is the most recently merged record, nil before the first merge.
	Latest *types.PredictionRecord `json:"latest,omitempty"`
	// LastError is the most recent stream error message, cleared on connect.
	LastError string `json:"last_error,omitempty"`
	// UpdatedAt is when this snapshot was published.
	UpdatedAt time.Time `json:"updated_at"`
}

// event is one unit of work for the loop. Exactly one field is set.
type event struct {
	record  *types.PredictionRecord
	records []types.PredictionRecord
	conn    *stream.Status
	probe   *health.Status
	errMsg  string
}

// Store is the single writer of the read model.
type Store struct {
	config  Config
	logger  *slog.Logger
	metrics *storeMetrics

	queue   *buffer.CircularBuffer[event]
	dropLog *rate.Limiter

	mu      sync.RWMutex
	current Snapshot

	subMu  sync.Mutex
	subs   map[uint64]chan Snapshot
	nextID uint64

	lifecycleMu sync.Mutex
	started     atomic.Bool
	shutdown    chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a store with an empty collection of the configured capacity.
func New(config Config, registry *metric.Registry, logger *slog.Logger) (*Store, error) {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		config:  config,
		logger:  logger.With("component", "store"),
		metrics: newStoreMetrics(registry),
		dropLog: rate.NewLimiter(rate.Every(time.Second), 3),
		subs:    make(map[uint64]chan Snapshot),
		current: Snapshot{
			Collection: collection.New(config.Capacity),
			Connection: stream.Status{State: stream.Disconnected, At: time.Now()},
			Health:     health.NewUnknown("prediction-api"),
			UpdatedAt:  time.Now(),
		},
		shutdown: make(chan struct{}),
	}

	queue, err := buffer.NewCircularBuffer[event](
		config.QueueSize,
		buffer.WithOverflowPolicy[event](buffer.DropOldest),
		buffer.WithDropCallback[event](s.onQueueDrop),
	)
	if err != nil {
		return nil, errors.WrapInvalid(err, "store", "New", "create ingest queue")
	}
	s.queue = queue

	return s, nil
}

// Start launches the drain loop.
func (s *Store) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "store", "Start", "check started state")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(loopCtx)

	s.started.Store(true)
	return nil
}

// Stop drains outstanding events, closes subscriber channels, and exits.
func (s *Store) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.started.Load() {
		return nil
	}

	close(s.shutdown)
	s.cancel()

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			errors.ErrConnectionTimeout, "store", "Stop", "wait for drain loop")
	}

	s.closeSubscribers()
	s.started.Store(false)
	return nil
}

// ApplyRecord enqueues one record for merging into the collection.
func (s *Store) ApplyRecord(rec types.PredictionRecord) {
	s.enqueue(event{record: &rec})
}

// ApplyRecords enqueues a batch, oldest first, typically the bootstrap fetch.
func (s *Store) ApplyRecords(recs []types.PredictionRecord) {
	if len(recs) == 0 {
		return
	}
	s.enqueue(event{records: recs})
}

// SetConnectionState records a stream connection transition.
func (s *Store) SetConnectionState(st stream.Status) {
	s.enqueue(event{conn: &st})
}

// SetHealth records an upstream probe result.
func (s *Store) SetHealth(st health.Status) {
	s.enqueue(event{probe: &st})
}

// NoteStreamError records a non-fatal stream error for operator visibility.
// It never touches the collection or the connection state.
func (s *Store) NoteStreamError(err error) {
	if err == nil {
		return
	}
	s.enqueue(event{errMsg: err.Error()})
}

// Snapshot returns the current published state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers a snapshot consumer. The current snapshot is delivered
// immediately, then every published change. Slow consumers miss intermediate
// snapshots rather than blocking the loop. The returned cancel function
// releases the subscription.
func (s *Store) Subscribe(depth int) (<-chan Snapshot, func()) {
	if depth <= 0 {
		depth = 1
	}
	ch := make(chan Snapshot, depth)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	count := len(s.subs)
	s.subMu.Unlock()

	if s.metrics != nil {
		s.metrics.subscribers.Set(float64(count))
	}

	ch <- s.Snapshot()

	cancel := func() {
		s.subMu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		count := len(s.subs)
		s.subMu.Unlock()
		if s.metrics != nil {
			s.metrics.subscribers.Set(float64(count))
		}
	}
	return ch, cancel
}

func (s *Store) enqueue(ev event) {
	if err := s.queue.Write(ev); err != nil {
		if s.dropLog.Allow() {
			s.logger.Warn("dropping event, store is stopped")
		}
		return
	}
	if s.metrics != nil {
		s.metrics.queueDepth.Set(float64(s.queue.Size()))
	}
}

func (s *Store) onQueueDrop(event) {
	if s.metrics != nil {
		s.metrics.queueDropped.Inc()
	}
	if s.dropLog.Allow() {
		s.logger.Warn("ingest queue full, dropped oldest event",
			"queue_size", s.config.QueueSize)
	}
}

func (s *Store) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drain()
		case <-s.shutdown:
			s.drain()
			return
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

// drain folds queued events into the next snapshot and publishes once.
func (s *Store) drain() {
	events := s.queue.ReadBatch(drainBatchSize)
	if len(events) == 0 {
		return
	}

	s.mu.RLock()
	next := s.current
	s.mu.RUnlock()

	for _, ev := range events {
		next = s.apply(next, ev)
	}
	next.UpdatedAt = time.Now()

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.publish(next)

	if s.metrics != nil {
		s.metrics.queueDepth.Set(float64(s.queue.Size()))
		s.metrics.devicesResident.Set(float64(next.Collection.Len()))
	}
}

func (s *Store) apply(snap Snapshot, ev event) Snapshot {
	switch {
	case ev.record != nil:
		snap.Collection = collection.Merge(snap.Collection, *ev.record)
		snap.Latest = ev.record
		if s.metrics != nil {
			s.metrics.recordsApplied.Inc()
		}
	case ev.records != nil:
		for i := range ev.records {
			snap.Collection = collection.Merge(snap.Collection, ev.records[i])
		}
		snap.Latest = &ev.records[len(ev.records)-1]
		if s.metrics != nil {
			s.metrics.recordsApplied.Add(float64(len(ev.records)))
		}
	case ev.conn != nil:
		snap.Connection = *ev.conn
		if ev.conn.State == stream.Connected {
			snap.LastError = ""
		} else if ev.conn.Reason != "" {
			snap.LastError = ev.conn.Reason
		}
	case ev.probe != nil:
		snap.Health = *ev.probe
	case ev.errMsg != "":
		snap.LastError = ev.errMsg
	}
	return snap
}

func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default: // subscriber is behind, it will catch up on the next publish
		}
	}
	if s.metrics != nil {
		s.metrics.snapshotsPublished.Inc()
	}
}

func (s *Store) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	if s.metrics != nil {
		s.metrics.subscribers.Set(0)
	}
}

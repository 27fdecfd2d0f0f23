// Package gateway exposes the reconciled read model over HTTP: query endpoints
// for predictions, devices, and risk statistics, operator controls for
// reconnect and refetch, a Prometheus scrape endpoint, and a WebSocket that
// pushes every published snapshot. The gateway only reads snapshots; all state
// changes flow through the store's event loop.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/devicewatch/errors"
	"github.com/c360/devicewatch/metric"
	"github.com/c360/devicewatch/store"
	"github.com/c360/devicewatch/types"
	"github.com/c360/devicewatch/view"
)

const (
	// DefaultListen is the bind address when none is configured.
	DefaultListen = ":8080"

	readHeaderTimeout = 5 * time.Second
	// maxQueryLimit caps the limit query parameter.
	maxQueryLimit = 200
)

// Config holds configuration for the gateway.
type Config struct {
	// Listen is the bind address, e.g. ":8080".
	Listen string `yaml:"listen"`
}

// Controls are the operator actions the gateway forwards to the reconciler.
type Controls struct {
	// Reconnect restarts the stream connection with a fresh attempt counter.
	Reconnect func()
	// Refetch re-seeds the collection from the upstream query API.
	Refetch func(ctx context.Context) error
}

// Server is the HTTP surface over the read model.
type Server struct {
	config   Config
	store    *store.Store
	registry *metric.Registry
	controls Controls
	logger   *slog.Logger
	metrics  *gatewayMetrics

	httpServer *http.Server
	listener   net.Listener

	wsClients atomic.Int64

	lifecycleMu sync.Mutex
	started     atomic.Bool
	wg          sync.WaitGroup
}

// New creates a gateway server over the given store.
func New(
	config Config,
	st *store.Store,
	registry *metric.Registry,
	controls Controls,
	logger *slog.Logger,
) (*Server, error) {
	if st == nil {
		return nil, errors.WrapFatal(
			errors.ErrMissingConfig, "gateway", "New", "store is required")
	}
	if config.Listen == "" {
		config.Listen = DefaultListen
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   config,
		store:    st,
		registry: registry,
		controls: controls,
		logger:   logger.With("component", "gateway"),
		metrics:  newGatewayMetrics(registry),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/predictions", s.instrument("predictions", s.handlePredictions))
	mux.HandleFunc("GET /api/devices", s.instrument("devices", s.handleDevices))
	mux.HandleFunc("GET /api/stats", s.instrument("stats", s.handleStats))
	mux.HandleFunc("GET /api/status", s.instrument("status", s.handleStatus))
	mux.HandleFunc("POST /api/reconnect", s.instrument("reconnect", s.handleReconnect))
	mux.HandleFunc("POST /api/refetch", s.instrument("refetch", s.handleRefetch))
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.instrument("healthz", s.handleHealthz))
	if registry != nil {
		mux.Handle("GET /metrics", registry.Handler())
	}

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// Start binds the listen address and serves in the background. The bind itself
// is synchronous so address conflicts surface here, not in a goroutine.
func (s *Server) Start(_ context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "gateway", "Start", "check started state")
	}

	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.WrapFatal(err, "gateway", "Start", "bind listen address")
	}
	s.listener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server exited", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	s.started.Store(true)
	return nil
}

// Stop shuts the server down gracefully within the timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.started.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	s.started.Store(false)
	if err != nil {
		return errors.WrapTransient(err, "gateway", "Stop", "shutdown http server")
	}
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handlePredictions serves the reconciled records, optionally filtered by
// device substring and risk label, ordered by freshness or risk severity.
func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := view.Filter{Device: q.Get("device")}
	if raw := q.Get("risk"); raw != "" {
		risk, err := types.ParseRiskLevel(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown risk label %q", raw))
			return
		}
		filter.Risk = risk
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxQueryLimit {
			s.writeError(w, http.StatusBadRequest,
				fmt.Sprintf("limit must be between 1 and %d", maxQueryLimit))
			return
		}
		limit = n
	}

	sortMode := q.Get("sort")
	if sortMode != "" && sortMode != "time" && sortMode != "risk" {
		s.writeError(w, http.StatusBadRequest, `sort must be "time" or "risk"`)
		return
	}

	records := view.Apply(s.store.Snapshot().Collection.Records(), filter)
	if sortMode == "risk" {
		records = view.SortByRisk(records)
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(records),
		"predictions": records,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   snap.Collection.Len(),
		"devices": snap.Collection.Devices(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := view.ComputeStats(s.store.Snapshot().Collection.Records())
	s.writeJSON(w, http.StatusOK, stats)
}

// statusPayload is the operator-facing condensation of a snapshot.
type statusPayload struct {
	State      string    `json:"connection_state"`
	Attempt    int       `json:"reconnect_attempt,omitempty"`
	Upstream   string    `json:"upstream_health"`
	LastError  string    `json:"last_error,omitempty"`
	Devices    int       `json:"devices"`
	Capacity   int       `json:"capacity"`
	UpdatedAt  time.Time `json:"updated_at"`
	ObservedAt time.Time `json:"observed_at"`
}

func statusFromSnapshot(snap store.Snapshot) statusPayload {
	return statusPayload{
		State:      snap.Connection.State.String(),
		Attempt:    snap.Connection.Attempt,
		Upstream:   snap.Health.Status,
		LastError:  snap.LastError,
		Devices:    snap.Collection.Len(),
		Capacity:   snap.Collection.Capacity(),
		UpdatedAt:  snap.UpdatedAt,
		ObservedAt: time.Now(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statusFromSnapshot(s.store.Snapshot()))
}

func (s *Server) handleReconnect(w http.ResponseWriter, _ *http.Request) {
	if s.controls.Reconnect == nil {
		s.writeError(w, http.StatusNotImplemented, "reconnect control not wired")
		return
	}
	s.controls.Reconnect()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func (s *Server) handleRefetch(w http.ResponseWriter, r *http.Request) {
	if s.controls.Refetch == nil {
		s.writeError(w, http.StatusNotImplemented, "refetch control not wired")
		return
	}
	if err := s.controls.Refetch(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "refetched"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument wraps a handler with request counting.
func (s *Server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics != nil {
			s.metrics.requests.WithLabelValues(name).Inc()
		}
		h(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	if s.metrics != nil {
		s.metrics.requestErrors.Inc()
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

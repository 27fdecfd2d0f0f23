// Package stream maintains the live SSE connection to the prediction service.
// It owns the connection state machine: connect, detect failure, schedule
// reconnection with exponential backoff, and surface every state transition.
// Records and errors are handed off through callbacks; the client never
// touches the collection itself.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/devicewatch/errors"
	"github.com/c360/devicewatch/metric"
	"github.com/c360/devicewatch/types"
)

// Handlers receive stream output. All callbacks are invoked from the client's
// single run goroutine, so invocations never interleave.
type Handlers struct {
	// OnRecord receives each well-formed prediction record.
	OnRecord func(types.PredictionRecord)
	// OnState receives every connection-state transition.
	OnState func(Status)
	// OnParseError receives malformed-payload errors. The payload is already
	// discarded; the stream stays up.
	OnParseError func(error)
}

// Client owns the live-stream transport lifecycle. Exactly one underlying
// transport handle is live at a time.
type Client struct {
	name     string
	config   Config
	handlers Handlers
	logger   *slog.Logger
	metrics  *Metrics

	httpClient *http.Client
	parseLog   *rate.Limiter

	mu      sync.Mutex
	status  Status
	body    io.ReadCloser // live transport handle, nil when not connected
	restart chan struct{}

	lifecycleMu sync.Mutex
	started     atomic.Bool
	shutdown    chan struct{}
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewClient creates a stream client. A malformed endpoint URL fails here,
// synchronously, before any transport exists.
func NewClient(
	name string,
	config Config,
	handlers Handlers,
	registry *metric.Registry,
	logger *slog.Logger,
) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		name:       name,
		config:     config.withDefaults(),
		handlers:   handlers,
		logger:     logger.With("component", "stream", "name", name),
		metrics:    newMetrics(registry, name),
		httpClient: &http.Client{}, // no client timeout: the stream is long-lived
		parseLog:   rate.NewLimiter(rate.Every(time.Second), 5),
		status:     Status{State: Disconnected, At: time.Now()},
		restart:    make(chan struct{}, 1),
		shutdown:   make(chan struct{}),
	}, nil
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start launches the connect loop.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.started.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "stream", "Start", "check started state")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(runCtx)

	c.started.Store(true)
	return nil
}

// Stop tears the client down: the pending reconnect timer is cancelled and
// the live transport handle is closed before waiting for the loop to exit.
func (c *Client) Stop(timeout time.Duration) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.started.Load() {
		return nil
	}

	close(c.shutdown)
	c.cancel()
	c.closeBody()

	doneCh := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			errors.ErrConnectionTimeout, "stream", "Stop", "wait for run loop")
	}

	c.started.Store(false)
	return nil
}

// Reconnect requests an immediate reconnection with a fresh attempt counter.
// It is the only way out of the Failed state, and is also safe to call while
// connected or backing off: any live handle is closed and any pending retry
// timer is superseded.
func (c *Client) Reconnect() {
	select {
	case c.restart <- struct{}{}:
	default: // a restart is already pending
	}
	c.closeBody()
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	attempt := 0 // consecutive failures since the last successful open
	for {
		if c.stopping(ctx) {
			c.setStatus(Status{State: Disconnected})
			return
		}

		opened, err := c.consume(ctx)

		if c.stopping(ctx) {
			c.setStatus(Status{State: Disconnected})
			return
		}

		// An explicit Reconnect() supersedes failure accounting entirely.
		select {
		case <-c.restart:
			attempt = 0
			continue
		default:
		}

		if opened {
			// The counter was reset on successful open; this failure is the
			// first of a new streak.
			attempt = 0
		}

		reason := ""
		if err != nil {
			reason = err.Error()
		}

		attempt++
		if attempt > c.config.MaxAttempts {
			c.logger.Error("reconnect attempts exhausted, giving up",
				"attempts", c.config.MaxAttempts, "error", reason)
			c.setStatus(Status{State: Failed, Reason: reason})

			select {
			case <-c.restart:
				attempt = 0
				continue
			case <-c.shutdown:
			case <-ctx.Done():
			}
			c.setStatus(Status{State: Disconnected})
			return
		}

		delay := c.config.backoff().DelayFor(attempt)
		if c.metrics != nil {
			c.metrics.reconnects.Inc()
		}
		c.logger.Warn("stream disconnected, scheduling reconnect",
			"attempt", attempt, "max_attempts", c.config.MaxAttempts,
			"delay", delay, "error", reason)
		c.setStatus(Status{State: Reconnecting, Attempt: attempt, Delay: delay, Reason: reason})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.restart:
			timer.Stop()
			attempt = 0
		case <-c.shutdown:
			timer.Stop()
			c.setStatus(Status{State: Disconnected})
			return
		case <-ctx.Done():
			timer.Stop()
			c.setStatus(Status{State: Disconnected})
			return
		}
	}
}

// consume dials the endpoint and reads events until the stream ends. The
// returned bool reports whether the transport opened successfully.
func (c *Client) consume(ctx context.Context) (bool, error) {
	c.setStatus(Status{State: Connecting})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return false, errors.WrapInvalid(err, "stream", "consume", "build request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.trackTransportError()
		return false, errors.WrapTransient(err, "stream", "consume", "dial endpoint")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.trackTransportError()
		return false, errors.WrapTransient(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			"stream", "consume", "open stream")
	}

	c.mu.Lock()
	c.body = resp.Body
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.connectsTotal.Inc()
	}
	c.logger.Info("stream connected", "url", c.config.URL)
	c.setStatus(Status{State: Connected})

	err = c.readEvents(resp.Body)

	c.mu.Lock()
	c.body = nil
	c.mu.Unlock()
	resp.Body.Close()

	if err != nil {
		c.trackTransportError()
	}
	return true, err
}

// readEvents parses SSE frames off the wire. A frame is one or more "data:"
// lines terminated by a blank line; comment and field lines are skipped.
func (c *Client) readEvents(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatch(data.Bytes())
				data.Reset()
			}
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event/id/retry fields carry nothing we need
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.WrapTransient(err, "stream", "readEvents", "read frame")
	}
	return errors.WrapTransient(errors.ErrStreamClosed, "stream", "readEvents", "stream ended")
}

// dispatch hands one frame payload to the handlers. Malformed payloads are
// discarded without touching the connection.
func (c *Client) dispatch(payload []byte) {
	rec, err := types.ParseRecord(payload)
	if err != nil {
		if c.metrics != nil {
			c.metrics.parseErrors.Inc()
		}
		if c.parseLog.Allow() {
			c.logger.Warn("discarding malformed stream payload", "error", err)
		}
		if c.handlers.OnParseError != nil {
			c.handlers.OnParseError(err)
		}
		return
	}

	if c.metrics != nil {
		c.metrics.recordsReceived.Inc()
	}
	if c.handlers.OnRecord != nil {
		c.handlers.OnRecord(rec)
	}
}

func (c *Client) setStatus(st Status) {
	st.At = time.Now()

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.connectionState.Set(float64(st.State))
	}
	if c.handlers.OnState != nil {
		c.handlers.OnState(st)
	}
}

func (c *Client) closeBody() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.body != nil {
		_ = c.body.Close()
		c.body = nil
	}
}

func (c *Client) trackTransportError() {
	if c.metrics != nil {
		c.metrics.transportErrors.Inc()
	}
}

func (c *Client) stopping(ctx context.Context) bool {
	select {
	case <-c.shutdown:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

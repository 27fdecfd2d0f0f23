package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devicewatch/types"
)

const goodFrame = `{"telemetry":{"DeviceName":"mri-1","DeviceType":"MRI","TemperatureC":36.5,"VibrationMM_S":0.2,"RuntimeHours":120},"final":{"label":"High","confidence":0.91,"factors":["temperature"]},"timestamp":"2026-08-24T10:00:00Z","pipeline":"live","device_name":"mri-1","device_type":"MRI"}`

type recorder struct {
	mu        sync.Mutex
	records   []types.PredictionRecord
	statuses  []Status
	parseErrs []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnRecord: func(rec types.PredictionRecord) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.records = append(r.records, rec)
		},
		OnState: func(st Status) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.statuses = append(r.statuses, st)
		},
		OnParseError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.parseErrs = append(r.parseErrs, err)
		},
	}
}

func (r *recorder) recordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *recorder) parseErrCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parseErrs)
}

func (r *recorder) snapshotStatuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.statuses))
	copy(out, r.statuses)
	return out
}

// sseServer streams the given frames and then holds the connection open until
// the client goes away.
func sseServer(frames ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		flusher.Flush()

		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
		<-req.Context().Done()
	}))
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     8 * time.Millisecond,
	}
}

func TestNewClientRejectsMalformedURL(t *testing.T) {
	_, err := NewClient("test", Config{URL: "nats://not-http"}, Handlers{}, nil, nil)
	require.Error(t, err)

	_, err = NewClient("test", Config{}, Handlers{}, nil, nil)
	require.Error(t, err)
}

func TestClientDeliversRecords(t *testing.T) {
	server := sseServer(goodFrame)
	defer server.Close()

	rec := &recorder{}
	client, err := NewClient("test", testConfig(server.URL), rec.handlers(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(time.Second)

	require.Eventually(t, func() bool {
		return rec.recordCount() == 1
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	got := rec.records[0]
	rec.mu.Unlock()
	assert.Equal(t, "mri-1", got.Device())
	assert.Equal(t, types.RiskHigh, got.Final.Label)
	assert.Equal(t, Connected, client.Status().State)
}

func TestMalformedPayloadDoesNotDisturbConnection(t *testing.T) {
	server := sseServer(`{"not": "a record"`, `{"device_name":"x"}`, goodFrame)
	defer server.Close()

	rec := &recorder{}
	client, err := NewClient("test", testConfig(server.URL), rec.handlers(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(time.Second)

	// The good frame arrives after the bad ones, on the same connection.
	require.Eventually(t, func() bool {
		return rec.recordCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, rec.parseErrCount())
	assert.Equal(t, Connected, client.Status().State)
	for _, st := range rec.snapshotStatuses() {
		assert.NotEqual(t, Reconnecting, st.State,
			"a malformed payload must never trigger a reconnect")
	}
}

func TestBackoffScheduleDoublesUpToCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rec := &recorder{}
	cfg := Config{
		URL:          server.URL,
		MaxAttempts:  4,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     8 * time.Millisecond,
	}
	client, err := NewClient("test", cfg, rec.handlers(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(time.Second)

	require.Eventually(t, func() bool {
		return client.Status().State == Failed
	}, time.Second, 5*time.Millisecond)

	var delays []time.Duration
	var attempts []int
	for _, st := range rec.snapshotStatuses() {
		if st.State == Reconnecting {
			delays = append(delays, st.Delay)
			attempts = append(attempts, st.Attempt)
		}
	}
	assert.Equal(t, []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		8 * time.Millisecond,
		8 * time.Millisecond,
	}, delays)
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
}

func TestFailedIsTerminalUntilExplicitReconnect(t *testing.T) {
	var dials atomic.Int64
	var healthy atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		dials.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-req.Context().Done()
	}))
	defer server.Close()

	rec := &recorder{}
	cfg := Config{
		URL:          server.URL,
		MaxAttempts:  2,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
	}
	client, err := NewClient("test", cfg, rec.handlers(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(time.Second)

	require.Eventually(t, func() bool {
		return client.Status().State == Failed
	}, time.Second, 5*time.Millisecond)

	// Initial dial plus the two retries, then nothing while Failed.
	settled := dials.Load()
	assert.Equal(t, int64(3), settled)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, dials.Load(),
		"no automatic reconnects may happen in the Failed state")

	healthy.Store(true)
	client.Reconnect()

	require.Eventually(t, func() bool {
		return client.Status().State == Connected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, settled+1, dials.Load())
}

func TestAttemptCounterResetsOnSuccessfulOpen(t *testing.T) {
	var dials atomic.Int64

	// Fail the first dial, serve the stream briefly on the second, then fail
	// again. The retry after the successful open must report attempt 1.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		n := dials.Add(1)
		if n != 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		fmt.Fprintf(w, "data: %s\n\n", goodFrame)
		w.(http.Flusher).Flush()
	}))
	defer server.Close()

	rec := &recorder{}
	client, err := NewClient("test", testConfig(server.URL), rec.handlers(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(time.Second)

	require.Eventually(t, func() bool {
		connects := 0
		for _, st := range rec.snapshotStatuses() {
			if st.State == Connected {
				connects++
			}
		}
		return connects >= 1 && rec.recordCount() == 1 && dials.Load() >= 3
	}, time.Second, 5*time.Millisecond)

	client.Stop(time.Second)

	var attemptsAfterConnect []int
	seenConnected := false
	for _, st := range rec.snapshotStatuses() {
		if st.State == Connected {
			seenConnected = true
			continue
		}
		if seenConnected && st.State == Reconnecting {
			attemptsAfterConnect = append(attemptsAfterConnect, st.Attempt)
		}
	}
	require.NotEmpty(t, attemptsAfterConnect)
	assert.Equal(t, 1, attemptsAfterConnect[0],
		"a successful open must reset the attempt counter")
}

func TestStopWhileBackingOff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rec := &recorder{}
	cfg := Config{
		URL:          server.URL,
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     time.Second,
	}
	client, err := NewClient("test", cfg, rec.handlers(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))

	require.Eventually(t, func() bool {
		return client.Status().State == Reconnecting
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, client.Stop(time.Second))
	assert.Less(t, time.Since(start), 200*time.Millisecond,
		"Stop must cancel the pending retry timer instead of waiting it out")
	assert.Equal(t, Disconnected, client.Status().State)
}

func TestStartTwiceFails(t *testing.T) {
	server := sseServer()
	defer server.Close()

	client, err := NewClient("test", testConfig(server.URL), Handlers{}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	defer client.Stop(time.Second)

	require.Error(t, client.Start(context.Background()))
}

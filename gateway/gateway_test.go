package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devicewatch/store"
	"github.com/c360/devicewatch/types"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(store.Config{DrainInterval: time.Millisecond}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(time.Second) })
	return s
}

func testServer(t *testing.T, st *store.Store, controls Controls) *Server {
	t.Helper()
	srv, err := New(Config{Listen: "127.0.0.1:0"}, st, nil, controls, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop(time.Second) })
	return srv
}

func rec(device string, ts time.Time, label types.RiskLevel) types.PredictionRecord {
	return types.PredictionRecord{
		Telemetry:  types.Telemetry{DeviceName: device, DeviceType: "MRI"},
		Final:      types.RiskAssessment{Label: label, Confidence: 0.9},
		Timestamp:  ts,
		DeviceName: device,
	}
}

func seed(t *testing.T, st *store.Store, recs ...types.PredictionRecord) {
	t.Helper()
	st.ApplyRecords(recs)
	require.Eventually(t, func() bool {
		return st.Snapshot().Collection.Len() > 0
	}, time.Second, time.Millisecond)
}

func get(t *testing.T, srv *Server, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get("http://" + srv.Addr() + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestPredictionsFilteringAndSorting(t *testing.T) {
	st := testStore(t)
	base := time.Now()
	seed(t, st,
		rec("mri-scanner-1", base, types.RiskLow),
		rec("ct-scanner-1", base.Add(time.Second), types.RiskHigh),
		rec("ventilator-2", base.Add(2*time.Second), types.RiskMedium),
	)
	srv := testServer(t, st, Controls{})

	var payload struct {
		Count       int                      `json:"count"`
		Predictions []types.PredictionRecord `json:"predictions"`
	}

	code, body := get(t, srv, "/api/predictions")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, 3, payload.Count)
	// Freshness order by default.
	assert.Equal(t, "ventilator-2", payload.Predictions[0].Device())

	code, body = get(t, srv, "/api/predictions?device=scanner")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, 2, payload.Count)

	code, body = get(t, srv, "/api/predictions?risk=High")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, 1, payload.Count)
	assert.Equal(t, "ct-scanner-1", payload.Predictions[0].Device())

	code, body = get(t, srv, "/api/predictions?sort=risk")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "ct-scanner-1", payload.Predictions[0].Device())
	assert.Equal(t, "ventilator-2", payload.Predictions[1].Device())

	code, body = get(t, srv, "/api/predictions?limit=1")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, 1, payload.Count)
}

func TestPredictionsRejectsBadParams(t *testing.T) {
	srv := testServer(t, testStore(t), Controls{})

	for _, path := range []string{
		"/api/predictions?risk=Critical",
		"/api/predictions?limit=0",
		"/api/predictions?limit=201",
		"/api/predictions?limit=ten",
		"/api/predictions?sort=alphabetical",
	} {
		code, body := get(t, srv, path)
		assert.Equal(t, http.StatusBadRequest, code, path)
		assert.Contains(t, string(body), "error", path)
	}
}

func TestDevicesAndStats(t *testing.T) {
	st := testStore(t)
	base := time.Now()
	seed(t, st,
		rec("a", base, types.RiskHigh),
		rec("b", base.Add(time.Second), types.RiskHigh),
		rec("c", base.Add(2*time.Second), types.RiskLow),
	)
	srv := testServer(t, st, Controls{})

	code, body := get(t, srv, "/api/devices")
	require.Equal(t, http.StatusOK, code)
	var devices struct {
		Count   int      `json:"count"`
		Devices []string `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(body, &devices))
	assert.Equal(t, 3, devices.Count)
	assert.Equal(t, []string{"c", "b", "a"}, devices.Devices)

	code, body = get(t, srv, "/api/stats")
	require.Equal(t, http.StatusOK, code)
	var stats struct {
		Total  int                     `json:"total"`
		Counts map[types.RiskLevel]int `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Counts[types.RiskHigh])
	assert.Equal(t, 1, stats.Counts[types.RiskLow])
}

func TestStatusAndHealthz(t *testing.T) {
	srv := testServer(t, testStore(t), Controls{})

	code, body := get(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, code)
	var status struct {
		State    string `json:"connection_state"`
		Upstream string `json:"upstream_health"`
		Devices  int    `json:"devices"`
		Capacity int    `json:"capacity"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "disconnected", status.State)
	assert.Equal(t, "unknown", status.Upstream)
	assert.Equal(t, 100, status.Capacity)

	code, body = get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestOperatorControls(t *testing.T) {
	reconnects := 0
	refetches := 0
	srv := testServer(t, testStore(t), Controls{
		Reconnect: func() { reconnects++ },
		Refetch: func(context.Context) error {
			refetches++
			if refetches > 1 {
				return fmt.Errorf("upstream unavailable")
			}
			return nil
		},
	})

	resp, err := http.Post("http://"+srv.Addr()+"/api/reconnect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, reconnects)

	resp, err = http.Post("http://"+srv.Addr()+"/api/refetch", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Upstream failure surfaces as a gateway error.
	resp, err = http.Post("http://"+srv.Addr()+"/api/refetch", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestControlsNotWired(t *testing.T) {
	srv := testServer(t, testStore(t), Controls{})

	resp, err := http.Post("http://"+srv.Addr()+"/api/reconnect", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestWebSocketPushesSnapshots(t *testing.T) {
	st := testStore(t)
	srv := testServer(t, st, Controls{})

	url := "ws://" + srv.Addr() + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The subscription delivers the current snapshot immediately.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var frame struct {
		Type   string `json:"type"`
		Status struct {
			State   string `json:"connection_state"`
			Devices int    `json:"devices"`
		} `json:"status"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "snapshot", frame.Type)
	assert.Equal(t, 0, frame.Status.Devices)

	st.ApplyRecord(rec("infusion-1", time.Now(), types.RiskMedium))

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no snapshot with the merged record arrived")
		conn.SetReadDeadline(deadline)
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Status.Devices == 1 {
			break
		}
	}
}

func TestBindConflictFailsOnStart(t *testing.T) {
	st := testStore(t)
	first := testServer(t, st, Controls{})

	second, err := New(Config{Listen: first.Addr()}, st, nil, Controls{}, nil)
	require.NoError(t, err)
	err = second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bind"))
}

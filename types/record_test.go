package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devicewatch/errors"
)

const sampleRecordJSON = `{
  "telemetry": {
    "DeviceName": "MRI-Scanner-01",
    "DeviceType": "MRI",
    "TemperatureC": 36.5,
    "VibrationMM_S": 0.8,
    "RuntimeHours": 1250,
    "PressureKPa": 101.2,
    "SentTimestamp": "2026-08-24T10:00:00Z"
  },
  "final": {
    "label": "High",
    "confidence": 0.91,
    "factors": ["temperature", "vibration"]
  },
  "azure_ml": {"ok": true, "label": "High", "confidence": 0.91},
  "local_model": {"ok": false, "error": "model unavailable"},
  "timestamp": "2026-08-24T10:00:01Z",
  "pipeline": "mqtt",
  "device_name": "MRI-Scanner-01",
  "device_type": "MRI"
}`

func TestParseRecord(t *testing.T) {
	rec, err := ParseRecord([]byte(sampleRecordJSON))
	require.NoError(t, err)

	assert.Equal(t, "MRI-Scanner-01", rec.Device())
	assert.Equal(t, RiskHigh, rec.Final.Label)
	assert.InDelta(t, 0.91, rec.Final.Confidence, 1e-9)
	assert.Equal(t, []string{"temperature", "vibration"}, rec.Final.Factors)
	assert.Equal(t, time.Date(2026, 8, 24, 10, 0, 1, 0, time.UTC), rec.Timestamp.UTC())

	require.NotNil(t, rec.Telemetry.PressureKPa)
	assert.InDelta(t, 101.2, *rec.Telemetry.PressureKPa, 1e-9)
	assert.Nil(t, rec.Telemetry.HumidityPercent, "absent reading stays nil")

	require.NotNil(t, rec.AzureML)
	assert.True(t, rec.AzureML.OK)
	require.NotNil(t, rec.LocalModel)
	assert.False(t, rec.LocalModel.OK)
	require.NotNil(t, rec.LocalModel.Error)
	assert.Equal(t, "model unavailable", *rec.LocalModel.Error)
}

func TestParseRecordRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"telemetry": `},
		{"missing final", `{"telemetry": {"DeviceName": "X"}, "timestamp": "2026-08-24T10:00:00Z"}`},
		{"bad label", `{"telemetry": {"DeviceName": "X"}, "final": {"label": "Critical"}, "timestamp": "2026-08-24T10:00:00Z"}`},
		{"no device identity", `{"telemetry": {}, "final": {"label": "Low"}, "timestamp": "2026-08-24T10:00:00Z"}`},
		{"missing timestamp", `{"telemetry": {"DeviceName": "X"}, "final": {"label": "Low"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "parse failures must classify invalid")
		})
	}
}

func TestDeviceFallsBackToTelemetry(t *testing.T) {
	rec := PredictionRecord{Telemetry: Telemetry{DeviceName: "Ventilator-07"}}
	assert.Equal(t, "Ventilator-07", rec.Device())

	rec.DeviceName = "Ventilator-07-renamed"
	assert.Equal(t, "Ventilator-07-renamed", rec.Device())
}

func TestRiskLevelSeverityOrdering(t *testing.T) {
	assert.Less(t, RiskLow.Severity(), RiskMedium.Severity())
	assert.Less(t, RiskMedium.Severity(), RiskHigh.Severity())
	assert.Equal(t, -1, RiskLevel("Critical").Severity())
	assert.False(t, RiskLevel("Critical").Valid())
}

func TestParseRiskLevel(t *testing.T) {
	for _, s := range []string{"low", "Low", "LOW", " low "} {
		lvl, err := ParseRiskLevel(s)
		require.NoError(t, err)
		assert.Equal(t, RiskLow, lvl)
	}

	_, err := ParseRiskLevel("critical")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

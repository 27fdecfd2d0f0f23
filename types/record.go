// Package types contains the shared domain types for the DeviceWatch
// reconciler: prediction records as delivered by the upstream prediction API,
// and the risk label vocabulary.
package types

import (
	"encoding/json"
	"time"

	"github.com/c360/devicewatch/errors"
)

// Telemetry is the sensor snapshot embedded in a prediction record. Readings
// that a device type may not report are pointer fields: nil means the reading
// was absent upstream, not zero.
type Telemetry struct {
	DeviceName   string  `json:"DeviceName"`
	DeviceType   string  `json:"DeviceType"`
	TemperatureC float64 `json:"TemperatureC"`
	VibrationMMS float64 `json:"VibrationMM_S"`
	RuntimeHours float64 `json:"RuntimeHours"`

	PressureKPa            *float64 `json:"PressureKPa,omitempty"`
	CurrentDrawA           *float64 `json:"CurrentDrawA,omitempty"`
	SignalNoiseLevel       *float64 `json:"SignalNoiseLevel,omitempty"`
	ClimateControl         *string  `json:"ClimateControl,omitempty"`
	HumidityPercent        *float64 `json:"HumidityPercent,omitempty"`
	Location               *string  `json:"Location,omitempty"`
	OperationalCycles      *float64 `json:"OperationalCycles,omitempty"`
	UserInteractionsPerDay *float64 `json:"UserInteractionsPerDay,omitempty"`
	ApproxDeviceAgeYears   *float64 `json:"ApproxDeviceAgeYears,omitempty"`
	NumRepairs             *float64 `json:"NumRepairs,omitempty"`
	ErrorLogsCount         *float64 `json:"ErrorLogsCount,omitempty"`

	SentTimestamp string `json:"SentTimestamp,omitempty"`
}

// ModelResult holds the outcome of one secondary inference source (the cloud
// model or the local fallback model).
type ModelResult struct {
	OK         bool     `json:"ok"`
	Label      *string  `json:"label,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Error      *string  `json:"error,omitempty"`
}

// RiskAssessment is the reconciled prediction for a record: the final label,
// its confidence in [0,1], and the contributing factors if the pipeline
// reported any.
type RiskAssessment struct {
	Label      RiskLevel `json:"label"`
	Confidence float64   `json:"confidence"`
	Factors    []string  `json:"factors,omitempty"`
}

// PredictionRecord is the unit of transport and storage. Records are immutable
// once constructed; a newer record for the same device supersedes the old one
// in the collection, it never mutates it.
type PredictionRecord struct {
	Telemetry  Telemetry      `json:"telemetry"`
	Final      RiskAssessment `json:"final"`
	AzureML    *ModelResult   `json:"azure_ml,omitempty"`
	LocalModel *ModelResult   `json:"local_model,omitempty"`

	// Timestamp is the authoritative event-time ordering key, distinct from
	// any per-component timestamp such as Telemetry.SentTimestamp.
	Timestamp time.Time `json:"timestamp"`
	Pipeline  string    `json:"pipeline,omitempty"`

	// Duplicated at the top level by the upstream API for easier access.
	DeviceName string `json:"device_name,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

// Device returns the device identity key for the record. The top-level name
// wins when present; older pipeline versions only set the telemetry field.
func (r PredictionRecord) Device() string {
	if r.DeviceName != "" {
		return r.DeviceName
	}
	return r.Telemetry.DeviceName
}

// ParseRecord validates and decodes one JSON-encoded prediction record as it
// arrives off the wire. Validation failures are classified invalid so the
// stream reader can discard the frame without tearing down the connection.
func ParseRecord(data []byte) (PredictionRecord, error) {
	var zero PredictionRecord

	if err := ValidateRecordJSON(data); err != nil {
		return zero, err
	}

	var rec PredictionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return zero, errors.WrapInvalid(err, "types", "ParseRecord", "unmarshal record")
	}

	if rec.Device() == "" {
		return zero, errors.WrapInvalid(
			errors.ErrInvalidRecord, "types", "ParseRecord", "record has no device identity")
	}
	if rec.Timestamp.IsZero() {
		return zero, errors.WrapInvalid(
			errors.ErrInvalidRecord, "types", "ParseRecord", "record has no timestamp")
	}

	return rec, nil
}

// Package view provides pure, read-only derivations over the reconciled
// device collection: predicate filters, risk-priority ordering, and aggregate
// risk statistics. Nothing here mutates the collection; every function returns
// fresh slices or values computed from its input.
package view

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/c360/devicewatch/types"
)

// Filter subsets records. Zero-valued fields match everything; populated
// fields compose conjunctively.
type Filter struct {
	// Device matches records whose device name contains this substring,
	// case-insensitively.
	Device string
	// Risk matches records with exactly this risk label.
	Risk types.RiskLevel
}

// Matches reports whether a single record passes the filter.
func (f Filter) Matches(rec types.PredictionRecord) bool {
	if f.Device != "" &&
		!strings.Contains(strings.ToLower(rec.Device()), strings.ToLower(f.Device)) {
		return false
	}
	if f.Risk != "" && rec.Final.Label != f.Risk {
		return false
	}
	return true
}

// Apply returns the records passing the filter, preserving input order.
func Apply(records []types.PredictionRecord, f Filter) []types.PredictionRecord {
	out := make([]types.PredictionRecord, 0, len(records))
	for _, rec := range records {
		if f.Matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// SortByRisk returns a copy of the records ordered by risk label severity
// (High > Medium > Low), ties broken by record timestamp descending.
func SortByRisk(records []types.PredictionRecord) []types.PredictionRecord {
	out := make([]types.PredictionRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Final.Label.Severity(), out[j].Final.Label.Severity()
		if si != sj {
			return si > sj
		}
		return out[i].Timestamp.UnixMilli() > out[j].Timestamp.UnixMilli()
	})
	return out
}

// Stats aggregates the risk distribution over a set of records.
type Stats struct {
	Total       int                     `json:"total"`
	Devices     int                     `json:"devices"`
	Counts      map[types.RiskLevel]int `json:"counts"`
	Percentages map[types.RiskLevel]int `json:"percentages"`
	LastUpdated time.Time               `json:"last_updated"`
}

// ComputeStats counts records per risk label and derives integer percentages
// rounded to the nearest whole number. An empty input yields all zeros.
func ComputeStats(records []types.PredictionRecord) Stats {
	stats := Stats{
		Total:       len(records),
		Counts:      make(map[types.RiskLevel]int, 3),
		Percentages: make(map[types.RiskLevel]int, 3),
	}

	devices := make(map[string]struct{}, len(records))
	for _, lvl := range types.Levels() {
		stats.Counts[lvl] = 0
		stats.Percentages[lvl] = 0
	}

	for _, rec := range records {
		devices[rec.Device()] = struct{}{}
		if rec.Final.Label.Valid() {
			stats.Counts[rec.Final.Label]++
		}
		if rec.Timestamp.After(stats.LastUpdated) {
			stats.LastUpdated = rec.Timestamp
		}
	}
	stats.Devices = len(devices)

	if stats.Total > 0 {
		for _, lvl := range types.Levels() {
			pct := float64(stats.Counts[lvl]) / float64(stats.Total) * 100
			stats.Percentages[lvl] = int(math.Round(pct))
		}
	}

	return stats
}

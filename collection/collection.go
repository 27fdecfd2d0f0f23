// Package collection implements the reconciled read model: a bounded,
// per-device-keyed, freshness-ordered set of prediction records, plus the pure
// merge operation that produces the next collection state from an incoming
// record.
package collection

import (
	"sort"

	"github.com/c360/devicewatch/types"
)

// DefaultCapacity bounds the collection when no capacity is configured.
const DefaultCapacity = 100

// Collection is an immutable snapshot of the reconciled device state. The
// record slice is ordered by record timestamp descending, holds at most one
// record per device identity, and never exceeds the capacity. Mutating
// operations return a new Collection; callers must not modify Records.
type Collection struct {
	records  []types.PredictionRecord
	capacity int
}

// New creates an empty collection with the given capacity. Non-positive
// capacities fall back to DefaultCapacity.
func New(capacity int) Collection {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return Collection{capacity: capacity}
}

// Merge produces the next collection state: any resident record for the same
// device is removed, the incoming record is inserted, the result is
// stable-sorted by record timestamp descending (millisecond resolution), and
// the oldest entries past the capacity are evicted. The just-inserted record
// is never the one evicted. Merge is deterministic and has no side effects;
// merging the same record twice yields the same collection.
func Merge(c Collection, incoming types.PredictionRecord) Collection {
	capacity := c.capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	device := incoming.Device()
	next := make([]types.PredictionRecord, 0, len(c.records)+1)
	for _, rec := range c.records {
		if rec.Device() != device {
			next = append(next, rec)
		}
	}
	next = append(next, incoming)

	// Stable sort keeps insertion order among equal timestamps, which makes
	// the equal-timestamp tie-break a defined policy rather than an accident.
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Timestamp.UnixMilli() > next[j].Timestamp.UnixMilli()
	})

	// Evict the oldest-timestamp entries past the capacity bound. The incoming
	// record is exempt: a late-arriving record that sorts oldest still lands,
	// displacing the oldest resident instead.
	for excess := len(next) - capacity; excess > 0; excess-- {
		last := len(next) - 1
		if next[last].Device() == device {
			next = append(next[:last-1], next[last])
		} else {
			next = next[:last]
		}
	}

	return Collection{records: next, capacity: capacity}
}

// Records returns the ordered sequence, newest record timestamp first.
// The returned slice is shared; callers must treat it as read-only.
func (c Collection) Records() []types.PredictionRecord {
	return c.records
}

// Get returns the resident record for a device identity.
func (c Collection) Get(device string) (types.PredictionRecord, bool) {
	for _, rec := range c.records {
		if rec.Device() == device {
			return rec, true
		}
	}
	return types.PredictionRecord{}, false
}

// Devices returns the distinct device identities currently resident,
// in sequence order.
func (c Collection) Devices() []string {
	names := make([]string, 0, len(c.records))
	for _, rec := range c.records {
		names = append(names, rec.Device())
	}
	return names
}

// Len returns the number of resident records.
func (c Collection) Len() int {
	return len(c.records)
}

// Capacity returns the configured capacity bound.
func (c Collection) Capacity() int {
	if c.capacity <= 0 {
		return DefaultCapacity
	}
	return c.capacity
}

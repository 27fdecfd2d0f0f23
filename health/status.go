// Package health provides the out-of-band liveness probe for the upstream
// prediction service and the status type surfaced to operators. Probe results
// are an orthogonal signal: they never influence the stream connection state
// or the reconciled collection.
package health

import "time"

// Status represents the health state of a probed component
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Status    string    `json:"status"` // "healthy", "unhealthy", "unknown"
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnknown creates the status used before the first probe completes
func NewUnknown(component string) Status {
	return Status{
		Component: component,
		Status:    "unknown",
		Message:   "no probe result yet",
		Timestamp: time.Now(),
	}
}

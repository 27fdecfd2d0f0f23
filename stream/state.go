package stream

import (
	"fmt"
	"time"
)

// State enumerates the connection lifecycle of the live stream. Transitions
// are driven only by the Client.
type State int

const (
	// Disconnected means no transport exists and none is being established
	Disconnected State = iota
	// Connecting means the initial transport dial is in flight
	Connecting
	// Connected means the transport is open and delivering events
	Connected
	// Reconnecting means a retry is scheduled after a transport failure
	Reconnecting
	// Failed is terminal: the attempt limit was exceeded and only an
	// explicit Reconnect() resumes attempts
	Failed
)

// String returns a string representation of the connection state
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is one connection-state transition as published to consumers.
// Attempt and Delay are meaningful only in the Reconnecting state.
type Status struct {
	State   State         `json:"state"`
	Attempt int           `json:"attempt,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	At      time.Time     `json:"at"`
}

// String implements fmt.Stringer for log output
func (s Status) String() string {
	if s.State == Reconnecting {
		return fmt.Sprintf("%s (attempt %d, delay %s)", s.State, s.Attempt, s.Delay)
	}
	return s.State.String()
}

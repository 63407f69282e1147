package session

import (
	"github.com/hrtrack/hrtrack/internal/gatt"
)

// State is the engine's lifecycle state. Exactly one State exists per
// engine; only the engine mutates it.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventKind discriminates engine events.
type EventKind int

const (
	// EventStateChange reports a session state transition.
	EventStateChange EventKind = iota
	// EventSample carries one decoded measurement with the most recent
	// battery reading, if any.
	EventSample
)

// Event is one item of the engine's outbound stream. Consumers such as the
// CLI display read these; a slow consumer loses the oldest events rather
// than stalling the dispatch path.
type Event struct {
	Kind EventKind

	// State and Reason are set for EventStateChange. Reason carries the
	// human-readable cause for Failed and Reconnecting transitions.
	State  State
	Reason string

	// Measurement and Battery are set for EventSample.
	Measurement gatt.Measurement
	Battery     *uint8
}

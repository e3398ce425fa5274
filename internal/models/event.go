package models

import "time"

// EventKind classifies a per-device log event.
type EventKind string

const (
	EventAttempt  EventKind = "attempt"  // Login attempt started
	EventRejected EventKind = "rejected" // Credentials refused
	EventState    EventKind = "state"    // State machine transition
	EventSetup    EventKind = "setup"    // Admin creation step
	EventSend     EventKind = "send"     // Command written to the device
	EventReceive  EventKind = "receive"  // Raw response read back
	EventResult   EventKind = "result"   // Device finished
	EventError    EventKind = "error"
)

// DeviceEvent is one entry in a device's chronological event stream.
type DeviceEvent struct {
	Device  string // host:port
	Kind    EventKind
	Message string
	Time    time.Time
}

package models

import "time"

// DeviceStatus is the terminal outcome of processing one device.
type DeviceStatus string

const (
	StatusSucceeded               DeviceStatus = "succeeded"
	StatusSucceededWithCmdFailure DeviceStatus = "succeeded-with-command-failures"
	StatusFailedAuth              DeviceStatus = "failed-auth"
	StatusFailedConnection        DeviceStatus = "failed-connection"
	StatusFailedSetup             DeviceStatus = "failed-setup"
	StatusFailedAmbiguous         DeviceStatus = "failed-ambiguous"
)

// AllStatuses lists every status in report order.
var AllStatuses = []DeviceStatus{
	StatusSucceeded,
	StatusSucceededWithCmdFailure,
	StatusFailedAuth,
	StatusFailedConnection,
	StatusFailedSetup,
	StatusFailedAmbiguous,
}

// Succeeded reports whether the device finished with no failures at all.
func (s DeviceStatus) Succeeded() bool {
	return s == StatusSucceeded
}

// Connected reports whether an authenticated session was established.
func (s DeviceStatus) Connected() bool {
	return s == StatusSucceeded || s == StatusSucceededWithCmdFailure
}

// CommandResult is the outcome of one command sent to a device.
type CommandResult struct {
	Command     string        // Command as sent
	Response    string        // Cleaned response text
	RawResponse string        // Everything read back, including echo and prompt
	Success     bool          // True when a non-empty, error-free response came back
	Cause       string        // Failure reason, empty on success
	Duration    time.Duration // Time from send to end of read
	StartedAt   time.Time
}

// DeviceResult is the outcome of processing one device.
// Exactly one is produced per processed target.
type DeviceResult struct {
	Target         Target
	Status         DeviceStatus
	Credentials    *CredentialPair // Pair used for the final session, nil if never connected
	SetupPerformed bool            // Admin account was created during this run
	Commands       []CommandResult // One per command, in input order
	Cause          string          // Human-readable reason for any non-success status
	Duration       time.Duration
	StartedAt      time.Time
}

// SucceededCommands counts the successful command results.
func (r DeviceResult) SucceededCommands() int {
	count := 0
	for _, cmd := range r.Commands {
		if cmd.Success {
			count++
		}
	}
	return count
}

// FleetReport summarizes a whole run.
type FleetReport struct {
	TotalDevices       int
	SucceededDevices   int
	FailedDevices      int
	SetupDevices       int
	StatusCounts       map[DeviceStatus]int
	TotalCommands      int
	SucceededCommands  int
	FailedCommands     int
	DeviceSuccessRate  float64 // Percent, 0 when no devices
	CommandSuccessRate float64 // Percent, 0 when no commands
	Duration           time.Duration
	Interrupted        bool // Run was stopped before every device was processed
	SkippedDevices     int  // Devices never started because of the interrupt
}

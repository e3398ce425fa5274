package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoTargets is returned when a run is started with an empty device list.
var ErrNoTargets = errors.New("no devices to process")

// DeviceError represents a failure that stopped one device.
// It includes context about which device failed and when.
type DeviceError struct {
	Device    string    // host:port of the device
	Message   string    // Human-readable error message
	Err       error     // Underlying error (optional)
	Timestamp time.Time // When the error occurred
}

// NewDeviceError creates a new DeviceError with the current timestamp.
func NewDeviceError(device, msg string, err error) *DeviceError {
	return &DeviceError{
		Device:    device,
		Message:   msg,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for DeviceError.
func (e *DeviceError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("device %s: %s", e.Device, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// RunError aggregates the device errors of one run. The orchestrator never
// returns it for device failures; callers build it when they want a single
// error value for a run that had failures.
type RunError struct {
	DeviceErrors  []*DeviceError
	TotalDevices  int
	FailedDevices int
}

// NewRunError creates an empty RunError for a run over total devices.
func NewRunError(total int) *RunError {
	return &RunError{TotalDevices: total, DeviceErrors: []*DeviceError{}}
}

// AddDevice records a failed device.
func (e *RunError) AddDevice(devErr *DeviceError) {
	e.DeviceErrors = append(e.DeviceErrors, devErr)
	e.FailedDevices++
}

// Error implements the error interface for RunError.
func (e *RunError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d/%d devices failed", e.FailedDevices, e.TotalDevices))
	if len(e.DeviceErrors) > 0 {
		sb.WriteString(":")
		for _, devErr := range e.DeviceErrors {
			sb.WriteString(fmt.Sprintf("\n  - %s", devErr.Error()))
		}
	}
	return sb.String()
}

// Unwrap returns the device errors so errors.Is and errors.As can traverse them.
func (e *RunError) Unwrap() []error {
	if len(e.DeviceErrors) == 0 {
		return nil
	}
	errs := make([]error, len(e.DeviceErrors))
	for i, devErr := range e.DeviceErrors {
		errs[i] = devErr
	}
	return errs
}

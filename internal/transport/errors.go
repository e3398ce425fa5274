package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ConnectionError reports that the device could not be reached.
type ConnectionError struct {
	Addr string
	Err  error
}

// Error implements the error interface for ConnectionError.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthError reports that the device rejected the credentials.
type AuthError struct {
	Addr     string
	Username string
	Err      error
}

// Error implements the error interface for AuthError.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication as %s rejected by %s: %v", e.Username, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// AmbiguousError reports a failure that is neither clearly unreachable nor clearly
// an authentication rejection, such as a handshake dropped mid-way.
type AmbiguousError struct {
	Addr string
	Err  error
}

// Error implements the error interface for AmbiguousError.
func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *AmbiguousError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a read that did not complete in time.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Output    string // Whatever was read before the deadline
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timeout after %v", e.Operation, e.Timeout)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsConnectionError checks if the error is or wraps a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsAuthError checks if the error is or wraps an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsAmbiguousError checks if the error is or wraps an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var ae *AmbiguousError
	return errors.As(err, &ae)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

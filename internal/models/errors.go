package models

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports a configuration row that could not be turned into a Target.
// Row errors are warnings; the row is skipped and loading continues.
type ConfigError struct {
	Path    string
	Row     int
	Message string
	Err     error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	var sb strings.Builder
	if e.Row > 0 {
		sb.WriteString(fmt.Sprintf("%s:%d: %s", e.Path, e.Row, e.Message))
	} else {
		sb.WriteString(fmt.Sprintf("%s: %s", e.Path, e.Message))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SetupError reports a failed admin-creation conversation.
type SetupError struct {
	Host   string
	Step   string // Conversation step that failed
	Output string // Device output seen at that step
	Err    error
}

// Error implements the error interface for SetupError.
func (e *SetupError) Error() string {
	msg := fmt.Sprintf("setup failed on %s at %s", e.Host, e.Step)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if out := lastLine(e.Output); out != "" {
		msg += fmt.Sprintf(" (device said %q)", out)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SetupError) Unwrap() error {
	return e.Err
}

// CommandError reports a command that did not produce a usable response.
type CommandError struct {
	Command string
	Reason  string
	Timeout bool
	Err     error
}

// Error implements the error interface for CommandError.
func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("command %q: %s", e.Command, e.Reason)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsConfigError checks if the error is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsSetupError checks if the error is or wraps a SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

func lastLine(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

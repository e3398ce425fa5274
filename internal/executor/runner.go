package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/provision"
	"github.com/harrison/crestprov/internal/transport"
)

// CommandRunner sends a device's commands over a ready session, one at a
// time, and records one result per command.
type CommandRunner struct {
	errorPatterns []string // Lowercased; any match marks the response failed
	now           func() time.Time
}

// NewCommandRunner creates a runner that treats any of errorPatterns
// (case-insensitive substrings) in a response as a device-reported error.
func NewCommandRunner(errorPatterns []string) *CommandRunner {
	patterns := make([]string, 0, len(errorPatterns))
	for _, p := range errorPatterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, strings.ToLower(p))
		}
	}
	return &CommandRunner{errorPatterns: patterns, now: time.Now}
}

// Run sends every command in order and never stops early on a failed
// command. It reports whether all of them succeeded. Blank commands are
// skipped without a result.
func (r *CommandRunner) Run(ctx context.Context, sess transport.Session, commands []string, emit provision.EmitFunc) ([]models.CommandResult, bool) {
	if emit == nil {
		emit = func(models.EventKind, string) {}
	}

	results := make([]models.CommandResult, 0, len(commands))
	allSucceeded := true
	for _, command := range commands {
		command = strings.TrimSpace(command)
		if command == "" {
			continue
		}
		result := r.runOne(ctx, sess, command, emit)
		if !result.Success {
			allSucceeded = false
		}
		results = append(results, result)
	}
	return results, allSucceeded
}

func (r *CommandRunner) runOne(ctx context.Context, sess transport.Session, command string, emit provision.EmitFunc) models.CommandResult {
	result := models.CommandResult{Command: command, StartedAt: r.now()}

	emit(models.EventSend, command)
	raw, err := sess.Send(ctx, command)
	result.Duration = r.now().Sub(result.StartedAt)

	var te *transport.TimeoutError
	if err != nil && asTimeout(err, &te) && raw == "" {
		raw = te.Output
	}
	result.RawResponse = raw
	result.Response = CleanResponse(command, raw)
	emit(models.EventReceive, raw)

	if cmdErr := r.check(command, result.Response, err); cmdErr != nil {
		result.Cause = commandCause(cmdErr)
		emit(models.EventError, cmdErr.Error())
		return result
	}
	result.Success = true
	return result
}

// check decides whether a response counts as a success.
func (r *CommandRunner) check(command, response string, sendErr error) *models.CommandError {
	var te *transport.TimeoutError
	switch {
	case sendErr != nil && asTimeout(sendErr, &te):
		return &models.CommandError{Command: command, Reason: fmt.Sprintf("timeout after %v", te.Timeout), Timeout: true, Err: sendErr}
	case sendErr != nil:
		return &models.CommandError{Command: command, Reason: "transport error", Err: sendErr}
	case response == "":
		return &models.CommandError{Command: command, Reason: "no response"}
	}

	lower := strings.ToLower(response)
	for _, p := range r.errorPatterns {
		if strings.Contains(lower, p) {
			return &models.CommandError{Command: command, Reason: "device reported error: " + matchingLine(response, p)}
		}
	}
	return nil
}

func asTimeout(err error, target **transport.TimeoutError) bool {
	return errors.As(err, target)
}

// commandCause is the per-command failure text used in reports.
func commandCause(e *models.CommandError) string {
	if e.Err != nil && !e.Timeout {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// matchingLine returns the first response line containing the lowercased pattern.
func matchingLine(response, pattern string) string {
	for _, line := range strings.Split(response, "\n") {
		if strings.Contains(strings.ToLower(line), pattern) {
			return strings.TrimSpace(line)
		}
	}
	return pattern
}

// CleanResponse strips the command echo, blank lines and prompt lines
// (anything ending in '>') from a raw device response.
func CleanResponse(command, raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	var kept []string
	echoSkipped := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasSuffix(trimmed, ">") {
			continue
		}
		if !echoSkipped && trimmed == command {
			echoSkipped = true
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}
	return strings.Join(kept, "\n")
}

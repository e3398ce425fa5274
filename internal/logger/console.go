// Package logger provides logging implementations for provisioning runs.
//
// ConsoleLogger writes a human-readable, level-filtered view of the run to
// a terminal. FileLogger keeps a run log plus one detailed log per device,
// including every command sent and every raw response read back.
// Implementations are thread-safe.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/report"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs run progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	scheme      *colorScheme
	progress    *ProgressBar
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		scheme:      newColorScheme(),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || (f != os.Stdout && f != os.Stderr) {
		return false
	}
	// color.NoColor honours NO_COLOR and TERM=dumb
	return !color.NoColor && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// eventLevel maps a device event to the level it is logged at.
func eventLevel(kind models.EventKind) string {
	switch kind {
	case models.EventReceive:
		return "trace"
	case models.EventState, models.EventSend, models.EventResult:
		return "debug"
	case models.EventRejected, models.EventError:
		return "warn"
	default:
		return "info"
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writeLine(level, message)
}

// writeLine writes one "[HH:MM:SS] [LEVEL] message" line. Callers hold the mutex.
func (cl *ConsoleLogger) writeLine(level, message string) {
	ts := timestamp()
	if cl.colorOutput {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, cl.colorLevel(level), message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

func (cl *ConsoleLogger) colorLevel(level string) string {
	switch strings.ToUpper(level) {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}

// LogEvent logs one device event at the level its kind maps to.
// Raw responses are logged at TRACE and only their first line is shown.
func (cl *ConsoleLogger) LogEvent(event models.DeviceEvent) {
	level := eventLevel(event.Kind)
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	message := event.Message
	if event.Kind == models.EventReceive {
		message = firstLine(message)
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writeLine(strings.ToUpper(level), fmt.Sprintf("%s: %s %s", event.Device, event.Kind, message))
}

// LogDeviceStart logs the device about to be processed.
// Format: "[HH:MM:SS] [N/Total] Processing host:port (n commands)"
func (cl *ConsoleLogger) LogDeviceStart(target models.Target, index, total int) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	if cl.progress == nil || cl.progress.Total() != total {
		cl.progress = NewProgressBar(total, 20, cl.colorOutput)
	}

	device := target.Address()
	if cl.colorOutput {
		device = color.New(color.Bold).Sprint(device)
	}
	fmt.Fprintf(cl.writer, "[%s] [%d/%d] Processing %s (%s)\n", timestamp(), index, total, device, plural(len(target.Commands), "command"))
}

// LogDeviceResult logs the outcome of one device followed by the fleet progress bar.
func (cl *ConsoleLogger) LogDeviceResult(result models.DeviceResult) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	status := string(result.Status)
	if cl.colorOutput {
		status = cl.scheme.status(result.Status).Sprint(status)
	}

	details := []string{}
	if result.SetupPerformed {
		details = append(details, "admin created")
	}
	if result.Status.Connected() {
		details = append(details, fmt.Sprintf("%d/%d commands ok", result.SucceededCommands(), len(result.Commands)))
	}
	detail := ""
	if len(details) > 0 {
		detail = " (" + strings.Join(details, ", ") + ")"
	}

	fmt.Fprintf(cl.writer, "[%s] %s: %s%s in %s\n", ts, result.Target.Address(), status, detail, formatDuration(result.Duration))
	if !result.Status.Succeeded() && result.Cause != "" {
		fmt.Fprintf(cl.writer, "[%s]   %s\n", ts, result.Cause)
	}

	if cl.progress != nil {
		cl.progress.Increment()
		fmt.Fprintf(cl.writer, "[%s] Progress: %s\n", ts, cl.progress.Render())
	}
}

// LogSummary logs the fleet summary at INFO level.
func (cl *ConsoleLogger) LogSummary(r models.FleetReport) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, "[%s] %s\n", ts, fmt.Sprintf(format, args...))
	}

	if cl.colorOutput {
		line("%s", color.New(color.Bold).Sprint("=== Deployment Summary ==="))
		line("%s", formatColorizedMetric("Total devices", r.TotalDevices, cl.scheme))
		line("%s", cl.scheme.success.Sprintf("Succeeded: %d", r.SucceededDevices))
		if r.FailedDevices > 0 {
			line("%s", cl.scheme.fail.Sprintf("Failed: %d", r.FailedDevices))
		} else {
			line("Failed: 0")
		}
	} else {
		line("=== Deployment Summary ===")
		line("Total devices: %d", r.TotalDevices)
		line("Succeeded: %d", r.SucceededDevices)
		line("Failed: %d", r.FailedDevices)
	}
	line("Admin accounts created: %d", r.SetupDevices)
	line("Commands: %d/%d succeeded (%.1f%%)", r.SucceededCommands, r.TotalCommands, r.CommandSuccessRate)
	line("Device success rate: %.1f%%", r.DeviceSuccessRate)
	line("Duration: %s", formatDuration(r.Duration))

	if r.FailedDevices > 0 {
		line("By status:")
		for _, status := range report.SortedStatuses(r.StatusCounts) {
			label := string(status)
			if cl.colorOutput {
				label = cl.scheme.status(status).Sprint(label)
			}
			line("  - %s: %d", label, r.StatusCounts[status])
		}
	}
	if r.Interrupted {
		msg := fmt.Sprintf("Run interrupted: %s not processed", plural(r.SkippedDevices, "device"))
		if cl.colorOutput {
			msg = cl.scheme.warn.Sprint(msg)
		}
		line("%s", msg)
	}

	cl.writer.Write([]byte(b.String()))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d > 0 && d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// NoOpLogger discards everything. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogEvent is a no-op implementation.
func (n *NoOpLogger) LogEvent(event models.DeviceEvent) {
}

// LogDeviceStart is a no-op implementation.
func (n *NoOpLogger) LogDeviceStart(target models.Target, index, total int) {
}

// LogDeviceResult is a no-op implementation.
func (n *NoOpLogger) LogDeviceResult(result models.DeviceResult) {
}

// LogSummary is a no-op implementation.
func (n *NoOpLogger) LogSummary(r models.FleetReport) {
}

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/report"
)

// FileLogger logs a run to files in a log directory.
// It creates a timestamped run log, one detailed log per device under
// devices/, and keeps a latest.log symlink pointing at the newest run.
// Device logs record every command and raw response regardless of level.
type FileLogger struct {
	logDir     string
	runLog     *os.File
	runFile    string
	devicesDir string
	logLevel   string
	devices    map[string]*os.File // Open device logs keyed by host:port
	mu         sync.Mutex
}

// NewFileLogger creates a new FileLogger that writes to .crestprov/logs/.
func NewFileLogger() (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(filepath.Join(".crestprov", "logs"), "info")
}

// NewFileLoggerWithDir creates a new FileLogger with a custom log directory.
func NewFileLoggerWithDir(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDirAndLevel creates a new FileLogger with a custom log directory and log level.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	devicesDir := filepath.Join(logDir, "devices")
	if err := os.MkdirAll(devicesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:     logDir,
		runLog:     file,
		runFile:    runFile,
		devicesDir: devicesDir,
		logLevel:   normalizeLogLevel(logLevel),
		devices:    make(map[string]*os.File),
	}

	logger.writeRunLog("=== Crestron Provisioning Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))
	return logger, nil
}

// RunFile returns the path of the run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// DeviceLogPath returns the per-device log path for target.
func (fl *FileLogger) DeviceLogPath(target models.Target) string {
	return filepath.Join(fl.devicesDir, deviceLogName(target.Host, target.Port))
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func deviceLogName(host string, port int) string {
	name := unsafeFileChars.ReplaceAllString(host, "_")
	if port != 0 && port != 22 {
		name += "_" + strconv.Itoa(port)
	}
	return name + ".log"
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogDeviceStart opens the device log and notes the start in the run log.
func (fl *FileLogger) LogDeviceStart(target models.Target, index, total int) {
	fl.mu.Lock()
	f, err := fl.openDeviceLocked(target.Address(), fl.DeviceLogPath(target), os.O_TRUNC)
	if err == nil {
		fmt.Fprintf(f, "=== Device %s ===\n", target.Address())
		fmt.Fprintf(f, "Username: %s\n", target.Username)
		fmt.Fprintf(f, "State hint: %s\n", target.State)
		fmt.Fprintf(f, "Commands: %d\n", len(target.Commands))
		fmt.Fprintf(f, "Started at: %s\n\n", time.Now().Format(time.RFC3339))
	}
	fl.mu.Unlock()

	if err != nil {
		fl.LogWarn(fmt.Sprintf("device log for %s unavailable: %v", target.Address(), err))
	}
	if fl.shouldLog("info") {
		fl.writeRunLog(fmt.Sprintf("[%s] [%d/%d] Processing %s\n", timestamp(), index, total, target.Address()))
	}
}

// LogEvent appends event to the device log and, when its level passes the
// filter, to the run log. SEND and RECV entries keep the full raw text.
func (fl *FileLogger) LogEvent(event models.DeviceEvent) {
	ts := event.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fl.mu.Lock()
	if f := fl.devices[event.Device]; f != nil {
		switch event.Kind {
		case models.EventSend:
			fmt.Fprintf(f, "[%s] SEND: %s\n", ts.Format("15:04:05.000"), event.Message)
		case models.EventReceive:
			fmt.Fprintf(f, "[%s] RECV:\n%s\n", ts.Format("15:04:05.000"), strings.ReplaceAll(event.Message, "\r", ""))
		default:
			fmt.Fprintf(f, "[%s] %s: %s\n", ts.Format("15:04:05.000"), strings.ToUpper(string(event.Kind)), event.Message)
		}
	}
	fl.mu.Unlock()

	if event.Kind == models.EventReceive || !fl.shouldLog(eventLevel(event.Kind)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] %s %s: %s\n", ts.Format("15:04:05"), event.Device, event.Kind, event.Message))
}

// LogDeviceResult writes the device's outcome and command table, then closes its log.
func (fl *FileLogger) LogDeviceResult(result models.DeviceResult) {
	device := result.Target.Address()

	fl.mu.Lock()
	f, err := fl.openDeviceLocked(device, fl.DeviceLogPath(result.Target), os.O_APPEND)
	if err == nil {
		var b strings.Builder
		fmt.Fprintf(&b, "\n=== Result ===\n")
		fmt.Fprintf(&b, "Status: %s\n", result.Status)
		if result.Credentials != nil {
			fmt.Fprintf(&b, "Credentials: %s\n", result.Credentials)
		}
		fmt.Fprintf(&b, "Setup performed: %t\n", result.SetupPerformed)
		fmt.Fprintf(&b, "Duration: %.1fs\n", result.Duration.Seconds())
		if result.Cause != "" {
			fmt.Fprintf(&b, "Cause: %s\n", result.Cause)
		}
		for i, c := range result.Commands {
			verdict := "OK"
			if !c.Success {
				verdict = "FAILED: " + c.Cause
			}
			fmt.Fprintf(&b, "\n#%d %s [%s] (%.2fs)\n", i+1, c.Command, verdict, c.Duration.Seconds())
			if c.Response != "" {
				fmt.Fprintf(&b, "%s\n", c.Response)
			}
		}
		f.WriteString(b.String())
		f.Close()
		delete(fl.devices, device)
	}
	fl.mu.Unlock()

	if fl.shouldLog("info") {
		msg := fmt.Sprintf("[%s] %s: %s (%d/%d commands ok, %.1fs)", timestamp(), device, result.Status,
			result.SucceededCommands(), len(result.Commands), result.Duration.Seconds())
		if result.Cause != "" {
			msg += " - " + result.Cause
		}
		fl.writeRunLog(msg + "\n")
	}
}

// openDeviceLocked returns the open log for device, opening it with the
// extra flag (os.O_TRUNC or os.O_APPEND) when needed. Callers hold fl.mu.
func (fl *FileLogger) openDeviceLocked(device, path string, flag int) (*os.File, error) {
	if f := fl.devices[device]; f != nil {
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open device log: %w", err)
	}
	fl.devices[device] = f
	return f, nil
}

// LogSummary writes the fleet summary to the run log at INFO level.
func (fl *FileLogger) LogSummary(r models.FleetReport) {
	if !fl.shouldLog("info") {
		return
	}

	ts := timestamp()
	status := "SUCCESS"
	switch {
	case r.Interrupted:
		status = "INTERRUPTED"
	case r.FailedDevices > 0 && r.SucceededDevices == 0:
		status = "FAILED"
	case r.FailedDevices > 0:
		status = "PARTIAL"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s] === DEPLOYMENT SUMMARY ===\n", ts)
	fmt.Fprintf(&b, "[%s] Total devices:  %d\n", ts, r.TotalDevices)
	fmt.Fprintf(&b, "[%s] Succeeded:      %d\n", ts, r.SucceededDevices)
	fmt.Fprintf(&b, "[%s] Failed:         %d\n", ts, r.FailedDevices)
	fmt.Fprintf(&b, "[%s] Admin created:  %d\n", ts, r.SetupDevices)
	fmt.Fprintf(&b, "[%s] Commands:       %d/%d (%.1f%%)\n", ts, r.SucceededCommands, r.TotalCommands, r.CommandSuccessRate)
	for _, s := range report.SortedStatuses(r.StatusCounts) {
		fmt.Fprintf(&b, "[%s]   %-32s %d\n", ts, s, r.StatusCounts[s])
	}
	if r.Interrupted {
		fmt.Fprintf(&b, "[%s] Skipped:        %d\n", ts, r.SkippedDevices)
	}
	fmt.Fprintf(&b, "[%s] Total time:     %.1fs\n", ts, r.Duration.Seconds())
	fmt.Fprintf(&b, "[%s] Status:         %s (%d/%d devices succeeded)\n", ts, status, r.SucceededDevices, r.TotalDevices)
	fmt.Fprintf(&b, "[%s] Completed at:   %s\n", ts, time.Now().Format(time.RFC3339))

	fl.writeRunLog(b.String())
}

// Close closes any device logs still open, then flushes and closes the run log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	for device, f := range fl.devices {
		f.Close()
		delete(fl.devices, device)
	}

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write for real-time logging
		fl.runLog.Sync()
	}
}

package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T, level string) (*FileLogger, string) {
	t.Helper()
	dir := t.TempDir()
	fl, err := NewFileLoggerWithDirAndLevel(dir, level)
	require.NoError(t, err)
	t.Cleanup(func() { fl.Close() })
	return fl, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNewFileLoggerDefaultDir(t *testing.T) {
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(oldWd)

	logger, err := NewFileLogger()
	require.NoError(t, err)
	defer logger.Close()

	info, err := os.Stat(filepath.Join(tmpDir, ".crestprov", "logs", "devices"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRunLogAndLatestSymlink(t *testing.T) {
	fl, dir := newTestFileLogger(t, "info")

	base := filepath.Base(fl.RunFile())
	assert.Regexp(t, `^run-\d{8}-\d{6}\.log$`, base)

	link, err := os.Readlink(filepath.Join(dir, "latest.log"))
	require.NoError(t, err)
	assert.Equal(t, base, link)

	content := readFile(t, fl.RunFile())
	assert.Contains(t, content, "=== Crestron Provisioning Run Log ===")
	assert.Contains(t, content, "Started at: ")
}

func TestLatestSymlinkReplaced(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "latest.log")
	require.NoError(t, os.Symlink("run-old.log", link))

	fl, err := NewFileLoggerWithDir(dir)
	require.NoError(t, err)
	defer fl.Close()

	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(fl.RunFile()), target)
}

func TestDeviceLogName(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"10.0.1.36", 22, "10.0.1.36.log"},
		{"10.0.1.36", 2222, "10.0.1.36_2222.log"},
		{"room-101.local", 0, "room-101.local.log"},
		{"fe80::1", 22, "fe80__1.log"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, deviceLogName(tt.host, tt.port))
	}
}

func TestDeviceLogRecordsConversation(t *testing.T) {
	fl, _ := newTestFileLogger(t, "error")
	target := sampleTarget()
	device := target.Address()

	fl.LogDeviceStart(target, 1, 1)
	fl.LogEvent(models.DeviceEvent{Device: device, Kind: models.EventAttempt, Message: "admin (factory)"})
	fl.LogEvent(models.DeviceEvent{Device: device, Kind: models.EventSend, Message: "ver"})
	fl.LogEvent(models.DeviceEvent{Device: device, Kind: models.EventReceive, Message: "ver\r\nCP4 Cntrl Eng\r\nCP4>"})
	fl.LogDeviceResult(sampleResult(models.StatusSucceededWithCmdFailure))

	content := readFile(t, fl.DeviceLogPath(target))
	for _, want := range []string{
		"=== Device 10.0.1.36:22 ===",
		"Username: admin",
		"Commands: 2",
		"ATTEMPT: admin (factory)",
		"SEND: ver",
		"RECV:\nver\nCP4 Cntrl Eng\nCP4>",
		"=== Result ===",
		"Status: succeeded-with-command-failures",
		"Setup performed: true",
		"Cause: 1 of 2 commands failed",
		"#1 ver [OK]",
		"CP4 Cntrl Eng",
		"#2 hostname [FAILED: no response]",
	} {
		assert.Contains(t, content, want)
	}
	assert.NotContains(t, content, "\r")

	_, open := fl.devices[device]
	assert.False(t, open, "device log should be closed after its result")
}

func TestDeviceLogTruncatedOnRestart(t *testing.T) {
	fl, _ := newTestFileLogger(t, "info")
	target := sampleTarget()

	fl.LogDeviceStart(target, 1, 1)
	fl.LogEvent(models.DeviceEvent{Device: target.Address(), Kind: models.EventSend, Message: "first-run"})
	fl.LogDeviceResult(sampleResult(models.StatusSucceeded))

	fl.LogDeviceStart(target, 1, 1)
	fl.LogDeviceResult(sampleResult(models.StatusSucceeded))

	content := readFile(t, fl.DeviceLogPath(target))
	assert.NotContains(t, content, "first-run")
	assert.Equal(t, 1, strings.Count(content, "=== Device "))
}

func TestRunLogEventFiltering(t *testing.T) {
	fl, _ := newTestFileLogger(t, "info")
	device := sampleTarget().Address()

	fl.LogDeviceStart(sampleTarget(), 2, 5)
	fl.LogEvent(models.DeviceEvent{Device: device, Kind: models.EventAttempt, Message: "admin (factory)"})
	fl.LogEvent(models.DeviceEvent{Device: device, Kind: models.EventSend, Message: "ver"})
	fl.LogEvent(models.DeviceEvent{Device: device, Kind: models.EventReceive, Message: "raw text"})
	fl.LogDeviceResult(models.DeviceResult{
		Target:   sampleTarget(),
		Status:   models.StatusFailedAuth,
		Cause:    "authentication failed",
		Duration: 2 * time.Second,
	})

	content := readFile(t, fl.RunFile())
	assert.Contains(t, content, "[2/5] Processing 10.0.1.36:22")
	assert.Contains(t, content, "10.0.1.36:22 attempt: admin (factory)")
	assert.Contains(t, content, "10.0.1.36:22: failed-auth (0/0 commands ok, 2.0s) - authentication failed")
	assert.NotContains(t, content, "send: ver")
	assert.NotContains(t, content, "raw text")
}

func TestFileLoggerLevelFiltering(t *testing.T) {
	fl, _ := newTestFileLogger(t, "warn")
	fl.LogTrace("trace message")
	fl.LogDebug("debug message")
	fl.LogInfo("info message")
	fl.LogWarn("warn message")
	fl.LogError("error message")

	content := readFile(t, fl.RunFile())
	assert.NotContains(t, content, "trace message")
	assert.NotContains(t, content, "debug message")
	assert.NotContains(t, content, "info message")
	assert.Contains(t, content, "[WARN] warn message")
	assert.Contains(t, content, "[ERROR] error message")
}

func TestFileLoggerSummary(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.FleetReport)
		status string
	}{
		{"partial", func(r *models.FleetReport) {}, "PARTIAL (1/3 devices succeeded)"},
		{"all failed", func(r *models.FleetReport) { r.SucceededDevices = 0; r.FailedDevices = 3 }, "FAILED (0/3 devices succeeded)"},
		{"all ok", func(r *models.FleetReport) { r.SucceededDevices = 3; r.FailedDevices = 0 }, "SUCCESS (3/3 devices succeeded)"},
		{"interrupted", func(r *models.FleetReport) { r.Interrupted = true; r.SkippedDevices = 1 }, "INTERRUPTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fl, _ := newTestFileLogger(t, "info")
			r := sampleReport()
			tt.mutate(&r)
			fl.LogSummary(r)

			content := readFile(t, fl.RunFile())
			assert.Contains(t, content, "=== DEPLOYMENT SUMMARY ===")
			assert.Contains(t, content, "Commands:       3/4 (75.0%)")
			assert.Contains(t, content, "Status:         "+tt.status)
		})
	}
}

func TestFileLoggerCloseIsIdempotent(t *testing.T) {
	fl, err := NewFileLoggerWithDir(t.TempDir())
	require.NoError(t, err)

	fl.LogDeviceStart(sampleTarget(), 1, 1)
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Close())
	assert.Empty(t, fl.devices)

	// Writes after close are dropped silently.
	fl.LogInfo("after close")
}

func TestFileLoggerConcurrentDevices(t *testing.T) {
	fl, _ := newTestFileLogger(t, "debug")

	var wg sync.WaitGroup
	hosts := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			target := models.Target{Host: host, Port: 22, Commands: []string{"ver"}}
			fl.LogDeviceStart(target, i+1, len(hosts))
			fl.LogEvent(models.DeviceEvent{Device: target.Address(), Kind: models.EventSend, Message: "ver from " + host})
			fl.LogDeviceResult(models.DeviceResult{Target: target, Status: models.StatusSucceeded})
		}(i, host)
	}
	wg.Wait()

	for _, host := range hosts {
		content := readFile(t, fl.DeviceLogPath(models.Target{Host: host, Port: 22}))
		assert.Contains(t, content, "SEND: ver from "+host)
		for _, other := range hosts {
			if other != host {
				assert.NotContains(t, content, "ver from "+other+"\n")
			}
		}
	}
}

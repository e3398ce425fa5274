package logger

import (
	"bytes"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/crestprov/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePrefix = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] `)

func sampleTarget() models.Target {
	return models.Target{Host: "10.0.1.36", Port: 22, Username: "admin", Commands: []string{"ver", "hostname"}}
}

func sampleResult(status models.DeviceStatus) models.DeviceResult {
	return models.DeviceResult{
		Target:         sampleTarget(),
		Status:         status,
		SetupPerformed: true,
		Commands: []models.CommandResult{
			{Command: "ver", Response: "CP4 Cntrl Eng", Success: true, Duration: time.Second},
			{Command: "hostname", Cause: "no response"},
		},
		Cause:    "1 of 2 commands failed",
		Duration: 75 * time.Second,
	}
}

func sampleReport() models.FleetReport {
	return models.FleetReport{
		TotalDevices:       3,
		SucceededDevices:   1,
		FailedDevices:      2,
		SetupDevices:       1,
		StatusCounts:       map[models.DeviceStatus]int{models.StatusSucceeded: 1, models.StatusFailedAuth: 2},
		TotalCommands:      4,
		SucceededCommands:  3,
		FailedCommands:     1,
		DeviceSuccessRate:  33.333,
		CommandSuccessRate: 75,
		Duration:           90 * time.Second,
	}
}

func TestNewConsoleLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "DEBUG")
	assert.Equal(t, "debug", logger.logLevel)
	assert.False(t, logger.colorOutput, "buffers never get color")

	assert.Equal(t, "info", NewConsoleLogger(buf, "").logLevel)
	assert.Equal(t, "info", NewConsoleLogger(buf, "verbose").logLevel)
}

func TestNilWriterIsSafe(t *testing.T) {
	logger := NewConsoleLogger(nil, "trace")
	logger.LogInfo("x")
	logger.LogEvent(models.DeviceEvent{Device: "a", Kind: models.EventSend})
	logger.LogDeviceStart(sampleTarget(), 1, 1)
	logger.LogDeviceResult(sampleResult(models.StatusSucceeded))
	logger.LogSummary(sampleReport())
}

func TestIsTerminalRejectsNonFiles(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))
	assert.False(t, isTerminal(nil))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, isTerminal(f))
}

func TestLogLevelFiltering(t *testing.T) {
	levels := []string{"trace", "debug", "info", "warn", "error"}
	for ci, configured := range levels {
		for mi, message := range levels {
			buf := &bytes.Buffer{}
			logger := NewConsoleLogger(buf, configured)
			switch message {
			case "trace":
				logger.LogTrace("msg")
			case "debug":
				logger.LogDebug("msg")
			case "info":
				logger.LogInfo("msg")
			case "warn":
				logger.LogWarn("msg")
			case "error":
				logger.LogError("msg")
			}
			want := mi >= ci
			assert.Equal(t, want, buf.Len() > 0, "configured %s, message %s", configured, message)
			if want {
				assert.Contains(t, buf.String(), "["+strings.ToUpper(message)+"] msg")
				assert.Regexp(t, linePrefix, buf.String())
			}
		}
	}
}

func TestLogEventLevels(t *testing.T) {
	tests := []struct {
		kind      models.EventKind
		level     string
		visibleAt string
	}{
		{models.EventAttempt, "INFO", "info"},
		{models.EventSetup, "INFO", "info"},
		{models.EventRejected, "WARN", "warn"},
		{models.EventError, "WARN", "warn"},
		{models.EventState, "DEBUG", "debug"},
		{models.EventSend, "DEBUG", "debug"},
		{models.EventReceive, "TRACE", "trace"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			buf := &bytes.Buffer{}
			NewConsoleLogger(buf, tt.visibleAt).LogEvent(models.DeviceEvent{Device: "10.0.1.36:22", Kind: tt.kind, Message: "hello"})
			assert.Contains(t, buf.String(), "["+tt.level+"] 10.0.1.36:22: "+string(tt.kind)+" hello")

			buf.Reset()
			NewConsoleLogger(buf, "error").LogEvent(models.DeviceEvent{Device: "10.0.1.36:22", Kind: tt.kind, Message: "hello"})
			assert.Empty(t, buf.String())
		})
	}
}

func TestLogEventReceiveShowsFirstLine(t *testing.T) {
	buf := &bytes.Buffer{}
	NewConsoleLogger(buf, "trace").LogEvent(models.DeviceEvent{
		Device: "10.0.1.36:22", Kind: models.EventReceive, Message: "\r\nver\r\nCP4 Cntrl Eng\r\nCP4>",
	})
	assert.Contains(t, buf.String(), "receive ver ...")
	assert.NotContains(t, buf.String(), "CP4>")
}

func TestLogDeviceStartAndResult(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")

	logger.LogDeviceStart(sampleTarget(), 1, 2)
	logger.LogDeviceResult(sampleResult(models.StatusSucceededWithCmdFailure))

	out := buf.String()
	assert.Contains(t, out, "[1/2] Processing 10.0.1.36:22 (2 commands)")
	assert.Contains(t, out, "10.0.1.36:22: succeeded-with-command-failures (admin created, 1/2 commands ok) in 1m15s")
	assert.Contains(t, out, "1 of 2 commands failed")
	assert.Contains(t, out, "Progress: [==========          ] 1/2 (50%)")
}

func TestLogDeviceResultFailureOmitsCommandCount(t *testing.T) {
	buf := &bytes.Buffer{}
	result := models.DeviceResult{
		Target:   sampleTarget(),
		Status:   models.StatusFailedConnection,
		Cause:    "device unreachable: i/o timeout",
		Duration: 10 * time.Second,
	}
	NewConsoleLogger(buf, "info").LogDeviceResult(result)

	assert.Contains(t, buf.String(), "10.0.1.36:22: failed-connection in 10s")
	assert.Contains(t, buf.String(), "device unreachable: i/o timeout")
	assert.NotContains(t, buf.String(), "commands ok")
}

func TestLogSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	r := sampleReport()
	r.Interrupted = true
	r.SkippedDevices = 2
	NewConsoleLogger(buf, "info").LogSummary(r)

	out := buf.String()
	for _, want := range []string{
		"=== Deployment Summary ===",
		"Total devices: 3",
		"Succeeded: 1",
		"Failed: 2",
		"Admin accounts created: 1",
		"Commands: 3/4 succeeded (75.0%)",
		"Device success rate: 33.3%",
		"Duration: 1m30s",
		"  - succeeded: 1",
		"  - failed-auth: 2",
		"Run interrupted: 2 devices not processed",
	} {
		assert.Contains(t, out, want)
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Regexp(t, linePrefix, line)
	}
}

func TestLogSummaryFilteredAtWarn(t *testing.T) {
	buf := &bytes.Buffer{}
	NewConsoleLogger(buf, "warn").LogSummary(sampleReport())
	assert.Empty(t, buf.String())
}

func TestColorOutput(t *testing.T) {
	saved := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = saved }()

	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")
	logger.colorOutput = true

	logger.LogWarn("careful")
	logger.LogDeviceResult(sampleResult(models.StatusFailedAuth))
	assert.Contains(t, buf.String(), "\x1b[33mWARN\x1b[0m")
	assert.Contains(t, buf.String(), "\x1b[31mfailed-auth\x1b[0m")
}

func TestConsoleLoggerConcurrentWrites(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "debug")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.LogEvent(models.DeviceEvent{Device: "d", Kind: models.EventSend, Message: "ver"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, strings.Count(buf.String(), "\n"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{250 * time.Millisecond, "250ms"},
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m30s"},
		{2 * time.Minute, "2m"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{time.Hour + time.Minute + time.Second, "1h1m1s"},
		{3 * time.Hour, "3h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in), tt.in.String())
	}
}

func TestColorSchemeStatus(t *testing.T) {
	s := newColorScheme()
	assert.Same(t, s.success, s.status(models.StatusSucceeded))
	assert.Same(t, s.warn, s.status(models.StatusSucceededWithCmdFailure))
	assert.Same(t, s.warn, s.status(models.StatusFailedAmbiguous))
	assert.Same(t, s.fail, s.status(models.StatusFailedSetup))
	assert.Contains(t, formatColorizedMetric("Total devices", 3, s), "Total devices")
}

func TestNoOpLogger(t *testing.T) {
	var sink Sink = NewNoOpLogger()
	sink.LogEvent(models.DeviceEvent{})
	sink.LogDeviceStart(sampleTarget(), 1, 1)
	sink.LogDeviceResult(sampleResult(models.StatusSucceeded))
	sink.LogSummary(sampleReport())
}

package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/harrison/crestprov/internal/filelock"
	"github.com/harrison/crestprov/internal/models"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	fileStampLayout = "20060102_150405"
)

// DeviceHeader is the column set of the deployment report.
var DeviceHeader = []string{
	"IP Address",
	"Port",
	"Status",
	"Setup Performed",
	"Credentials",
	"Commands Executed",
	"Successful Commands",
	"Message",
	"Duration",
	"Timestamp",
}

// CommandHeader is the column set of the command details report.
var CommandHeader = []string{
	"IP Address",
	"Port",
	"Command",
	"Success",
	"Response Length",
	"Cause",
	"Duration",
	"Timestamp",
	"Response",
}

// Paths lists the files written by one Write call.
type Paths struct {
	Devices  string
	Commands string
	Summary  string
}

// Writer writes the report files of a run into one directory.
type Writer struct {
	dir   string
	runID string
	now   func() time.Time
}

// NewWriter creates a Writer for dir. An empty dir means the working directory.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "."
	}
	return &Writer{dir: dir, now: time.Now}
}

// WithRunID tags the JSON summary with the history run id.
func (w *Writer) WithRunID(id string) *Writer {
	w.runID = id
	return w
}

// Write renders all three reports and writes each one atomically.
func (w *Writer) Write(report models.FleetReport, results []models.DeviceResult) (Paths, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create report directory: %w", err)
	}

	now := w.now()
	stamp := now.Format(fileStampLayout)
	paths := Paths{
		Devices:  filepath.Join(w.dir, "deployment_report_"+stamp+".csv"),
		Commands: filepath.Join(w.dir, "command_details_"+stamp+".csv"),
		Summary:  filepath.Join(w.dir, "summary_"+stamp+".json"),
	}

	var devices, commands, summary bytes.Buffer
	if err := WriteDeviceCSV(&devices, results); err != nil {
		return Paths{}, err
	}
	if err := WriteCommandCSV(&commands, results); err != nil {
		return Paths{}, err
	}
	if err := WriteSummaryJSON(&summary, NewSummary(w.runID, now, report, results)); err != nil {
		return Paths{}, err
	}

	for path, buf := range map[string]*bytes.Buffer{
		paths.Devices:  &devices,
		paths.Commands: &commands,
		paths.Summary:  &summary,
	} {
		if err := filelock.AtomicWrite(path, buf.Bytes()); err != nil {
			return Paths{}, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
	}
	return paths, nil
}

// WriteDeviceCSV writes one row per device result.
func WriteDeviceCSV(writer io.Writer, results []models.DeviceResult) error {
	csvWriter := csv.NewWriter(writer)

	if err := csvWriter.Write(DeviceHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range results {
		row := []string{
			r.Target.Host,
			strconv.Itoa(r.Target.Port),
			string(r.Status),
			yesNo(r.SetupPerformed),
			credentials(r.Credentials),
			strconv.Itoa(len(r.Commands)),
			strconv.Itoa(r.SucceededCommands()),
			deviceMessage(r),
			seconds(r.Duration),
			r.StartedAt.Format(timestampLayout),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// WriteCommandCSV writes one row per command result across all devices.
func WriteCommandCSV(writer io.Writer, results []models.DeviceResult) error {
	csvWriter := csv.NewWriter(writer)

	if err := csvWriter.Write(CommandHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range results {
		for _, c := range r.Commands {
			row := []string{
				r.Target.Host,
				strconv.Itoa(r.Target.Port),
				c.Command,
				yesNo(c.Success),
				strconv.Itoa(len(c.Response)),
				c.Cause,
				seconds(c.Duration),
				c.StartedAt.Format(timestampLayout),
				c.Response,
			}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Summary is the JSON form of a fleet report.
type Summary struct {
	RunID              string          `json:"run_id,omitempty"`
	GeneratedAt        time.Time       `json:"generated_at"`
	TotalDevices       int             `json:"total_devices"`
	SucceededDevices   int             `json:"succeeded_devices"`
	FailedDevices      int             `json:"failed_devices"`
	SetupDevices       int             `json:"setup_devices"`
	SkippedDevices     int             `json:"skipped_devices"`
	StatusCounts       map[string]int  `json:"status_counts"`
	TotalCommands      int             `json:"total_commands"`
	SucceededCommands  int             `json:"succeeded_commands"`
	FailedCommands     int             `json:"failed_commands"`
	DeviceSuccessRate  float64         `json:"device_success_rate"`
	CommandSuccessRate float64         `json:"command_success_rate"`
	DurationSeconds    float64         `json:"duration_seconds"`
	Interrupted        bool            `json:"interrupted"`
	Devices            []DeviceSummary `json:"devices"`
}

// DeviceSummary is one device entry of Summary.
type DeviceSummary struct {
	Host               string  `json:"host"`
	Port               int     `json:"port"`
	Status             string  `json:"status"`
	SetupPerformed     bool    `json:"setup_performed"`
	Credentials        string  `json:"credentials,omitempty"`
	Commands           int     `json:"commands"`
	SuccessfulCommands int     `json:"successful_commands"`
	Cause              string  `json:"cause,omitempty"`
	DurationSeconds    float64 `json:"duration_seconds"`
}

// NewSummary builds the JSON summary for a run.
func NewSummary(runID string, generatedAt time.Time, report models.FleetReport, results []models.DeviceResult) Summary {
	s := Summary{
		RunID:              runID,
		GeneratedAt:        generatedAt,
		TotalDevices:       report.TotalDevices,
		SucceededDevices:   report.SucceededDevices,
		FailedDevices:      report.FailedDevices,
		SetupDevices:       report.SetupDevices,
		SkippedDevices:     report.SkippedDevices,
		StatusCounts:       make(map[string]int, len(report.StatusCounts)),
		TotalCommands:      report.TotalCommands,
		SucceededCommands:  report.SucceededCommands,
		FailedCommands:     report.FailedCommands,
		DeviceSuccessRate:  round2(report.DeviceSuccessRate),
		CommandSuccessRate: round2(report.CommandSuccessRate),
		DurationSeconds:    round2(report.Duration.Seconds()),
		Interrupted:        report.Interrupted,
		Devices:            make([]DeviceSummary, 0, len(results)),
	}
	for status, count := range report.StatusCounts {
		s.StatusCounts[string(status)] = count
	}
	for _, r := range results {
		s.Devices = append(s.Devices, DeviceSummary{
			Host:               r.Target.Host,
			Port:               r.Target.Port,
			Status:             string(r.Status),
			SetupPerformed:     r.SetupPerformed,
			Credentials:        credentials(r.Credentials),
			Commands:           len(r.Commands),
			SuccessfulCommands: r.SucceededCommands(),
			Cause:              r.Cause,
			DurationSeconds:    round2(r.Duration.Seconds()),
		})
	}
	return s
}

// WriteSummaryJSON writes s as indented JSON.
func WriteSummaryJSON(writer io.Writer, s Summary) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// SortedStatuses returns the statuses present in counts in report order,
// followed by any unknown ones alphabetically.
func SortedStatuses(counts map[models.DeviceStatus]int) []models.DeviceStatus {
	known := make(map[models.DeviceStatus]bool, len(models.AllStatuses))
	var out []models.DeviceStatus
	for _, status := range models.AllStatuses {
		known[status] = true
		if counts[status] > 0 {
			out = append(out, status)
		}
	}
	var extra []models.DeviceStatus
	for status, n := range counts {
		if !known[status] && n > 0 {
			extra = append(extra, status)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

func deviceMessage(r models.DeviceResult) string {
	if r.Cause != "" {
		return r.Cause
	}
	if r.SetupPerformed {
		return "admin account created"
	}
	return "OK"
}

func credentials(pair *models.CredentialPair) string {
	if pair == nil {
		return ""
	}
	return pair.String()
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 2, 64)
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

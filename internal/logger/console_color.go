package logger

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/harrison/crestprov/internal/models"
)

// colorScheme defines consistent colors for statuses and metrics.
// Green: success
// Red: failure
// Yellow: partial success and warnings
// Cyan: labels
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

// newColorScheme creates the standard color scheme.
func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
}

// status picks the color for a device status.
func (s *colorScheme) status(status models.DeviceStatus) *color.Color {
	switch status {
	case models.StatusSucceeded:
		return s.success
	case models.StatusSucceededWithCmdFailure, models.StatusFailedAmbiguous:
		return s.warn
	default:
		return s.fail
	}
}

// formatColorizedMetric formats a single metric with colorized label and value.
// Format: "label: value"
func formatColorizedMetric(label string, value interface{}, scheme *colorScheme) string {
	labelColored := scheme.label.Sprint(label)
	valueColored := scheme.value.Sprintf("%v", value)
	return fmt.Sprintf("%s: %s", labelColored, valueColored)
}

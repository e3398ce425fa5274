// Package report folds device results into a fleet summary and writes the
// deployment and command reports.
package report

import (
	"time"

	"github.com/harrison/crestprov/internal/models"
)

// Aggregate folds results into a FleetReport. Only StatusSucceeded counts
// as a succeeded device; commands are counted individually for every
// device, including ones that finished with command failures.
func Aggregate(results []models.DeviceResult, duration time.Duration, interrupted bool, skipped int) models.FleetReport {
	report := models.FleetReport{
		TotalDevices:   len(results),
		StatusCounts:   make(map[models.DeviceStatus]int, len(models.AllStatuses)),
		Duration:       duration,
		Interrupted:    interrupted,
		SkippedDevices: skipped,
	}
	for _, status := range models.AllStatuses {
		report.StatusCounts[status] = 0
	}

	for _, result := range results {
		report.StatusCounts[result.Status]++
		if result.Status.Succeeded() {
			report.SucceededDevices++
		} else {
			report.FailedDevices++
		}
		if result.SetupPerformed {
			report.SetupDevices++
		}

		report.TotalCommands += len(result.Commands)
		succeeded := result.SucceededCommands()
		report.SucceededCommands += succeeded
		report.FailedCommands += len(result.Commands) - succeeded
	}

	report.DeviceSuccessRate = percent(report.SucceededDevices, report.TotalDevices)
	report.CommandSuccessRate = percent(report.SucceededCommands, report.TotalCommands)
	return report
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

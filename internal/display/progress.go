package display

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// ProgressIndicator shows device loading progress: a header, one
// "[N/Total] host" line per device and a completion line.
type ProgressIndicator struct {
	writer       io.Writer
	totalDevices int
	current      int
	color        bool
}

// NewProgressIndicator creates a new progress indicator
func NewProgressIndicator(w io.Writer, total int) *ProgressIndicator {
	return &ProgressIndicator{
		writer:       w,
		totalDevices: total,
		color:        supportsColor(w),
	}
}

// WithColor forces colors on or off.
func (p *ProgressIndicator) WithColor(enabled bool) *ProgressIndicator {
	p.color = enabled
	return p
}

// Start displays the header message
func (p *ProgressIndicator) Start() {
	fmt.Fprintf(p.writer, "Loading devices:\n")
}

// Step displays progress for the current device: [N/Total] host:port
func (p *ProgressIndicator) Step(device string) {
	p.current++
	line := newColor(p.color, color.FgCyan).Sprintf("  [%d/%d] %s", p.current, p.totalDevices, device)
	fmt.Fprintln(p.writer, line)
}

// Complete displays the success line with a green checkmark
func (p *ProgressIndicator) Complete() {
	check := newColor(p.color, color.FgGreen).Sprint("✓")
	noun := "devices"
	if p.totalDevices == 1 {
		noun = "device"
	}
	fmt.Fprintf(p.writer, "%s Loaded %d %s\n", check, p.totalDevices, noun)
}

// DisplaySource shows the configuration file being loaded and its detected format.
func DisplaySource(w io.Writer, path, format string) {
	fmt.Fprintf(w, "Loading devices from %s (%s)...\n", path, format)
}

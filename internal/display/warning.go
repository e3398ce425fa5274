package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Warning represents a user-facing warning message
type Warning struct {
	Title      string   // Main warning title
	Message    string   // Detailed explanation (optional)
	Items      []string // Affected rows or devices (optional)
	Suggestion string   // Action to take (optional)
}

// Display shows a formatted warning in yellow when out is a terminal.
func (w Warning) Display(out io.Writer) {
	w.render(out, supportsColor(out))
}

func (w Warning) render(out io.Writer, enableColor bool) {
	var b strings.Builder

	b.WriteString("⚠️  Warning: ")
	b.WriteString(w.Title)
	b.WriteString("\n")

	if w.Message != "" {
		b.WriteString("    ")
		b.WriteString(w.Message)
		b.WriteString("\n")
	}

	if len(w.Items) > 0 {
		if len(w.Items) == 1 {
			b.WriteString("    Affected row:\n")
		} else {
			b.WriteString("    Affected rows:\n")
		}
		for i, item := range w.Items {
			b.WriteString(fmt.Sprintf("      %d. %s\n", i+1, item))
		}
	}

	if w.Suggestion != "" {
		b.WriteString("    Suggestion:\n")
		b.WriteString("    ")
		b.WriteString(w.Suggestion)
		b.WriteString("\n")
	}

	fmt.Fprint(out, newColor(enableColor, color.FgYellow).Sprint(b.String()))
}

// WarnSkippedRows creates a warning listing configuration rows that were skipped.
func WarnSkippedRows(rowErrors []error) Warning {
	items := make([]string, 0, len(rowErrors))
	for _, err := range rowErrors {
		items = append(items, err.Error())
	}
	title := fmt.Sprintf("%d configuration rows skipped", len(items))
	if len(items) == 1 {
		title = "1 configuration row skipped"
	}
	return Warning{
		Title:      title,
		Items:      items,
		Suggestion: "Fix the rows above and re-run to include those devices",
	}
}

// Package display provides terminal output helpers for the crestprov CLI:
// device loading progress and formatted warnings.
//
// # Progress Indicators
//
// Use ProgressIndicator while targets are being loaded:
//
//	progress := display.NewProgressIndicator(os.Stdout, len(inv.Targets))
//	progress.Start()
//	for _, t := range inv.Targets {
//	    progress.Step(t.Address())
//	}
//	progress.Complete()
//
// # Warning Messages
//
// Display warnings with optional components:
//
//	warning := display.Warning{
//	    Title:      "Password Required",
//	    Message:    "Some rows have no password",
//	    Items:      []string{"devices.csv:4"},
//	    Suggestion: "Add a password column or enter it when prompted",
//	}
//	warning.Display(os.Stderr)
//
// Or build one from the rows an inventory skipped:
//
//	if len(inv.Warnings) > 0 {
//	    display.WarnSkippedRows(inv.Warnings).Display(os.Stderr)
//	}
//
// # Colors
//
// Colors come from github.com/fatih/color and are enabled only when the
// writer is a terminal. Progress steps are cyan and warnings are yellow.
package display

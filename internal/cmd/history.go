package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/harrison/crestprov/internal/config"
	"github.com/harrison/crestprov/internal/filelock"
	"github.com/harrison/crestprov/internal/history"
	"github.com/harrison/crestprov/internal/report"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the 'crestprov history' command group
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past provisioning runs",
		Long: `Inspect the runs recorded in the history database
(default: history.db under $CRESTPROV_HOME or .crestprov). Passwords are
never stored.`,
	}

	cmd.PersistentFlags().String("settings", "", "Path to settings file (default: $CRESTPROV_HOME/config.yaml or .crestprov/config.yaml)")
	cmd.PersistentFlags().String("db", "", "History database path (overrides settings)")

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryExportCommand())
	cmd.AddCommand(newHistoryDeleteCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList,
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to show (0 = all)")
	return cmd
}

func newHistoryExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export one run as JSON or CSV",
		Long: `Export a recorded run. The run id may be shortened to any unambiguous prefix.

Formats:
  json      summary with one entry per device (default)
  csv       one row per device
  commands  one row per command`,
		Args: cobra.ExactArgs(1),
		RunE: runHistoryExport,
	}
	cmd.Flags().String("format", "json", "Output format: json, csv or commands")
	cmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryDelete,
	}
}

// openHistory opens the history database named by --db or the settings file.
// It returns nil without error when the database does not exist yet.
func openHistory(cmd *cobra.Command) (*history.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		settingsPath, _ := cmd.Flags().GetString("settings")
		cfg, err := config.LoadSettings(settingsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		dbPath = cfg.History.DBPath
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}
	store, err := history.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return store, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	output := cmd.OutOrStdout()
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Fprintln(output, "No runs recorded yet.")
		return nil
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.ListRuns(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(output, "No runs recorded yet.")
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(output, "%-8s  %-19s  %-9s  %-9s  %-9s  %s\n", "RUN", "STARTED", "DEVICES", "OK", "FAILED", "CONFIG")
	for _, run := range runs {
		failed := fmt.Sprintf("%-9d", run.FailedDevices)
		if run.FailedDevices > 0 {
			failed = red(failed)
		}
		source := run.ConfigPath
		if run.Interrupted {
			source += " " + yellow("(interrupted)")
		}
		fmt.Fprintf(output, "%-8s  %-19s  %-9d  %s  %s  %s\n",
			shortID(run.ID),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.TotalDevices,
			green(fmt.Sprintf("%-9d", run.SucceededDevices)),
			failed,
			source)
	}

	if version, err := store.SchemaVersion(); err == nil {
		fmt.Fprintf(output, "\n%d run(s) from %s (schema v%d)\n", len(runs), store.Path(), version)
	}
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	outPath, _ := cmd.Flags().GetString("output")
	switch format {
	case "json", "csv", "commands":
	default:
		return fmt.Errorf("invalid format %q (valid: json, csv, commands)", format)
	}

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("%w: %s", history.ErrRunNotFound, args[0])
	}
	defer store.Close()

	ctx := context.Background()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	results, err := store.GetDeviceResults(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("load device results: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case "json":
		fleet := report.Aggregate(results, run.Duration(), run.Interrupted, run.SkippedDevices)
		err = report.WriteSummaryJSON(&buf, report.NewSummary(run.ID, run.FinishedAt, fleet, results))
	case "csv":
		err = report.WriteDeviceCSV(&buf, results)
	case "commands":
		err = report.WriteCommandCSV(&buf, results)
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}

	if outPath == "" {
		_, err = io.Copy(cmd.OutOrStdout(), &buf)
		return err
	}
	if err := filelock.AtomicWrite(outPath, buf.Bytes()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported run %s to %s\n", shortID(run.ID), outPath)
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("%w: %s", history.ErrRunNotFound, args[0])
	}
	defer store.Close()

	ctx := context.Background()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s.\n", run.ID)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

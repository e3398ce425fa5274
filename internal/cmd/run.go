package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/crestprov/internal/config"
	"github.com/harrison/crestprov/internal/display"
	"github.com/harrison/crestprov/internal/executor"
	"github.com/harrison/crestprov/internal/filelock"
	"github.com/harrison/crestprov/internal/history"
	"github.com/harrison/crestprov/internal/inventory"
	"github.com/harrison/crestprov/internal/logger"
	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/provision"
	"github.com/harrison/crestprov/internal/report"
	"github.com/harrison/crestprov/internal/transport"
	"github.com/spf13/cobra"
)

// RunLockPath guards against two runs in the same directory.
var RunLockPath = filepath.Join(".crestprov", "run.lock")

// runDeps are the pieces of a run that tests replace.
type runDeps struct {
	dialer        func(opts transport.Options) transport.Dialer
	handleSignals bool
}

func defaultRunDeps() runDeps {
	return runDeps{
		dialer: func(opts transport.Options) transport.Dialer {
			return transport.NewSSHDialer(opts)
		},
		handleSignals: true,
	}
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	return newRunCommand(defaultRunDeps())
}

func newRunCommand(deps runDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config-file]",
		Short: "Provision every device in a configuration file",
		Long: `Provision every device listed in a configuration file.

For each device crestprov logs in with the factory account and creates the
admin account when the first-boot wizard appears, reconnects as the admin,
runs the device's commands and records the result. Devices are processed one
at a time unless --parallelism is raised. Press Ctrl+C to stop after the
current device; a report is still written for the devices already processed.

When no file is given the first of devices.csv, devices.txt,
crestron_devices.csv or config.csv in the current directory is used.

Settings are loaded from .crestprov/config.yaml if present. Set
CRESTPROV_HOME to keep settings, logs and history in another directory.
CLI flags override settings file values. The admin password for devices
without one is read from CRESTPROV_PASSWORD (also loaded from .env) or asked
for at startup.

Examples:
  crestprov run devices.csv
  crestprov run --yes --parallelism 4 devices.csv
  crestprov run --log-level debug --report-dir reports/ devices.txt
  crestprov run --settings lab.yaml --no-history`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd, args, deps)
		},
	}

	cmd.Flags().String("settings", "", "Path to settings file (default: $CRESTPROV_HOME/config.yaml or .crestprov/config.yaml)")
	cmd.Flags().BoolP("yes", "y", false, "Start without asking for confirmation")
	cmd.Flags().Int("parallelism", 0, "Devices processed at once (default from settings: 1)")
	cmd.Flags().Duration("connect-timeout", 0, "SSH connect timeout (e.g. 10s)")
	cmd.Flags().Duration("command-timeout", 0, "Upper bound on each command's response (e.g. 10s)")
	cmd.Flags().String("log-dir", "", "Directory for run and device logs")
	cmd.Flags().String("report-dir", "", "Directory for CSV and JSON reports")
	cmd.Flags().String("log-level", "", "Console and file log level: trace, debug, info, warn, error")
	cmd.Flags().Bool("no-history", false, "Do not record this run in the history database")

	return cmd
}

// loadSettings reads the settings file and applies any flags the user set.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	settingsPath, _ := cmd.Flags().GetString("settings")
	cfg, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var overrides config.FlagOverrides
	flags := cmd.Flags()
	if flags.Changed("parallelism") {
		v, _ := flags.GetInt("parallelism")
		overrides.Parallelism = &v
	}
	if flags.Changed("connect-timeout") {
		v, _ := flags.GetDuration("connect-timeout")
		overrides.ConnectTimeout = &v
	}
	if flags.Changed("command-timeout") {
		v, _ := flags.GetDuration("command-timeout")
		overrides.CommandTimeout = &v
	}
	if flags.Changed("log-dir") {
		v, _ := flags.GetString("log-dir")
		overrides.LogDir = &v
	}
	if flags.Changed("report-dir") {
		v, _ := flags.GetString("report-dir")
		overrides.ReportDir = &v
	}
	if flags.Changed("log-level") {
		v, _ := flags.GetString("log-level")
		overrides.LogLevel = &v
	}
	if flags.Changed("no-history") {
		v, _ := flags.GetBool("no-history")
		overrides.NoHistory = &v
	}
	cfg.MergeWithFlags(overrides)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// loadTargets finds and parses the device configuration, showing skipped rows.
func loadTargets(args []string, cfg *config.Config, out, errOut io.Writer) (*inventory.Inventory, error) {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		found, err := inventory.FindDefault(".")
		if err != nil {
			return nil, fmt.Errorf("%w; run \"crestprov sample\" to create one", err)
		}
		path = found
	}

	inv, err := inventory.Load(path, inventory.Defaults{Username: cfg.DefaultUsername, Port: cfg.Port})
	if err != nil {
		if models.IsConfigError(err) {
			return nil, fmt.Errorf("%w; run \"crestprov sample\" to see the expected layout", err)
		}
		return nil, err
	}

	if len(inv.Warnings) > 0 {
		display.WarnSkippedRows(inv.Warnings).Display(errOut)
	}
	if len(inv.Targets) == 0 {
		return nil, fmt.Errorf("no devices loaded from %s", path)
	}

	display.DisplaySource(out, path, string(inv.Format))
	if n := len(inv.CommandColumns); n > 0 {
		fmt.Fprintf(out, "Detected %d command column(s): %s\n", n, strings.Join(inv.CommandColumns, ", "))
	}
	progress := display.NewProgressIndicator(out, len(inv.Targets))
	progress.Start()
	for _, t := range inv.Targets {
		progress.Step(t.Address())
	}
	progress.Complete()
	return inv, nil
}

// fillMissing supplies the password and shared commands that rows left out.
func fillMissing(inv *inventory.Inventory, prompter *Prompter, out io.Writer) ([]models.Target, error) {
	targets := append([]models.Target(nil), inv.Targets...)

	if inv.NeedsPassword() {
		password, ok := config.PasswordFromEnv()
		if ok {
			fmt.Fprintf(out, "Using admin password from %s\n", config.PasswordEnvVar)
		} else {
			var err error
			password, err = prompter.Password()
			if err != nil {
				return nil, err
			}
		}
		for i, t := range targets {
			if t.PasswordPrompt {
				targets[i] = t.WithPassword(password)
			}
		}
	}

	if inv.NeedsCommands() {
		commands, err := prompter.Commands()
		if err != nil {
			return nil, err
		}
		if len(commands) == 0 {
			fmt.Fprintln(out, "No commands entered; devices without commands will only be provisioned")
		}
		for i, t := range targets {
			if len(t.Commands) == 0 {
				targets[i] = t.WithCommands(commands)
			}
		}
	}
	return targets, nil
}

// buildOrchestrator wires the transport, state machine, command runner and loggers.
func buildOrchestrator(cfg *config.Config, deps runDeps, log executor.Logger, confirmer executor.Confirmer) *executor.Orchestrator {
	dialer := deps.dialer(transport.Options{
		PromptPattern:  cfg.PromptPattern,
		CommandTimeout: cfg.Timing.CommandTimeout,
		IdleTimeout:    cfg.Timing.IdleTimeout,
	})

	wizard := provision.DefaultWizard()
	if len(cfg.Setup.WizardPatterns) > 0 {
		wizard.Banner = cfg.Setup.WizardPatterns
	}
	if len(cfg.Setup.RejectionPatterns) > 0 {
		wizard.Rejections = cfg.Setup.RejectionPatterns
	}

	machine := provision.NewMachine(dialer,
		models.CredentialPair{Username: cfg.Setup.FactoryUsername, Password: cfg.Setup.FactoryPassword},
		provision.Timing{
			ConnectTimeout: cfg.Timing.ConnectTimeout,
			SettleDelay:    cfg.Timing.SettleDelay,
			ReconnectDelay: cfg.Timing.ReconnectDelay,
			RetryBackoff:   cfg.Timing.RetryBackoff,
			PromptTimeout:  cfg.Setup.PromptTimeout,
			ConfirmTimeout: cfg.Setup.ConfirmTimeout,
		},
		wizard)

	return executor.NewOrchestrator(machine, executor.NewCommandRunner(cfg.ErrorPatterns), log, executor.Options{
		Parallelism:   cfg.Parallelism,
		DevicePause:   cfg.Timing.DevicePause,
		HandleSignals: deps.handleSignals,
	}).WithConfirmer(confirmer)
}

// loggingConfirmer asks the operator to proceed and opens the file logger
// only once they agree, so a declined run leaves no log behind.
type loggingConfirmer struct {
	prompter *Prompter
	cfg      *config.Config
	log      *logger.MultiLogger
	file     *logger.FileLogger
}

// Confirm implements executor.Confirmer.
func (c *loggingConfirmer) Confirm(count int) (bool, error) {
	ok, err := c.prompter.Confirm(count)
	if err != nil || !ok {
		return ok, err
	}
	fileLogger, err := logger.NewFileLoggerWithDirAndLevel(c.cfg.LogDir, c.cfg.LogLevel)
	if err != nil {
		return false, fmt.Errorf("failed to create file logger: %w", err)
	}
	c.file = fileLogger
	c.log.Add(fileLogger)
	c.log.LogDebug(fmt.Sprintf("run log: %s", fileLogger.RunFile()))
	return true, nil
}

// Close closes the file logger if one was opened.
func (c *loggingConfirmer) Close() error {
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}

// recordHistory stores the run and returns its id. Failures are warnings.
func recordHistory(ctx context.Context, cfg *config.Config, configPath string, startedAt time.Time, outcome *executor.Outcome, log *logger.MultiLogger) string {
	if !cfg.History.Enabled {
		return ""
	}
	store, err := history.NewStore(cfg.History.DBPath)
	if err != nil {
		log.LogWarn(fmt.Sprintf("run history unavailable: %v", err))
		return ""
	}
	defer store.Close()

	run := history.NewRun(configPath, Version, startedAt, outcome.Report)
	if err := store.RecordRun(ctx, run, outcome.Results); err != nil {
		log.LogWarn(fmt.Sprintf("failed to record run history: %v", err))
		return ""
	}
	return run.ID
}

func runProvision(cmd *cobra.Command, args []string, deps runDeps) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	lock := filelock.NewFileLock(RunLockPath)
	if err := lock.TryAcquire(); err != nil {
		if errors.Is(err, filelock.ErrLocked) {
			return fmt.Errorf("another crestprov run is active in this directory (%s)", lock.Path())
		}
		return err
	}
	defer lock.Release()

	inv, err := loadTargets(args, cfg, out, errOut)
	if err != nil {
		return err
	}

	yes, _ := cmd.Flags().GetBool("yes")
	prompter := NewPrompter(cmd.InOrStdin(), out).WithAssumeYes(yes)
	targets, err := fillMissing(inv, prompter, out)
	if err != nil {
		return err
	}

	log := logger.NewMultiLogger(logger.NewConsoleLogger(out, cfg.LogLevel))
	confirmer := &loggingConfirmer{prompter: prompter, cfg: cfg, log: log}
	defer confirmer.Close()

	startedAt := time.Now()
	outcome, err := buildOrchestrator(cfg, deps, log, confirmer).Run(ctx, targets)
	if err != nil {
		return err
	}
	if outcome.Declined {
		fmt.Fprintln(out, "Aborted. No devices were contacted.")
		return nil
	}

	runID := recordHistory(ctx, cfg, inv.Path, startedAt, outcome, log)

	paths, err := report.NewWriter(cfg.ReportDir).WithRunID(runID).Write(outcome.Report, outcome.Results)
	if err != nil {
		return fmt.Errorf("failed to write reports: %w", err)
	}

	fmt.Fprintf(out, "\nReports:\n  %s\n  %s\n  %s\n", paths.Devices, paths.Commands, paths.Summary)
	fmt.Fprintf(out, "Logs: %s\n", filepath.Dir(confirmer.file.RunFile()))
	if runID != "" {
		fmt.Fprintf(out, "Run ID: %s\n", runID)
	}
	if failures := outcome.Failures(); failures != nil {
		log.LogWarn(failures.Error())
	}
	return nil
}

package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/provision"
	"github.com/harrison/crestprov/internal/report"
)

// EventSink receives every per-device event in chronological order.
type EventSink interface {
	LogEvent(event models.DeviceEvent)
}

// Logger defines the interface for logging orchestrator progress and results.
type Logger interface {
	EventSink
	LogDeviceStart(target models.Target, index, total int)
	LogDeviceResult(result models.DeviceResult)
	LogSummary(report models.FleetReport)
}

// Confirmer asks the operator whether to proceed with count devices.
type Confirmer interface {
	Confirm(count int) (bool, error)
}

// Provisioner drives one device to a ready session or a terminal failure.
type Provisioner interface {
	Provision(ctx context.Context, target models.Target, emit provision.EmitFunc) provision.Outcome
}

// Options tunes how the orchestrator walks the fleet.
type Options struct {
	Parallelism   int           // Devices processed at once; values below 1 mean 1
	DevicePause   time.Duration // Wait between sequentially processed devices
	HandleSignals bool          // Stop after the current device on SIGINT/SIGTERM
}

// Outcome is the result of one run over the fleet.
type Outcome struct {
	Declined    bool                  // Operator declined; nothing was touched
	Results     []models.DeviceResult // In input order, processed devices only
	Report      models.FleetReport
	Interrupted bool
}

// Failures collects the failed devices as a RunError, or nil when every
// processed device succeeded.
func (o *Outcome) Failures() *RunError {
	runErr := NewRunError(len(o.Results))
	for _, r := range o.Results {
		if r.Status.Succeeded() {
			continue
		}
		runErr.AddDevice(NewDeviceError(r.Target.Address(), string(r.Status), errors.New(r.Cause)))
	}
	if runErr.FailedDevices == 0 {
		return nil
	}
	return runErr
}

// Orchestrator walks the fleet, hands each device to the provisioner and
// the command runner, and aggregates the results.
type Orchestrator struct {
	provisioner Provisioner
	runner      *CommandRunner
	logger      Logger
	confirmer   Confirmer
	opts        Options
	sleep       provision.Sleeper

	interruptOnce sync.Once
	interrupt     chan struct{}
}

// NewOrchestrator creates a new Orchestrator instance.
// The logger parameter is optional and can be nil.
func NewOrchestrator(provisioner Provisioner, runner *CommandRunner, logger Logger, opts Options) *Orchestrator {
	if provisioner == nil {
		panic("provisioner cannot be nil")
	}
	if runner == nil {
		panic("command runner cannot be nil")
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Orchestrator{
		provisioner: provisioner,
		runner:      runner,
		logger:      logger,
		opts:        opts,
		sleep:       provision.Sleep,
		interrupt:   make(chan struct{}),
	}
}

// WithConfirmer sets the confirmation prompt. Without one the run starts immediately.
func (o *Orchestrator) WithConfirmer(c Confirmer) *Orchestrator {
	o.confirmer = c
	return o
}

// WithSleeper replaces the pause between devices.
func (o *Orchestrator) WithSleeper(s provision.Sleeper) *Orchestrator {
	o.sleep = s
	return o
}

// Interrupt stops the run after the devices in flight finish.
func (o *Orchestrator) Interrupt() {
	o.interruptOnce.Do(func() { close(o.interrupt) })
}

// Run processes targets in order. Device failures are recorded in the
// outcome and never returned as errors; Run only fails when it cannot start.
func (o *Orchestrator) Run(ctx context.Context, targets []models.Target) (*Outcome, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	if o.confirmer != nil {
		ok, err := o.confirmer.Confirm(len(targets))
		if err != nil {
			return nil, fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			return &Outcome{Declined: true, Results: []models.DeviceResult{}}, nil
		}
	}

	// stopCtx ends on interrupt; devices in flight keep running on ctx.
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-o.interrupt:
			stop()
		case <-stopCtx.Done():
		}
	}()

	if o.opts.HandleSignals {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case <-sigChan:
				fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, finishing current device...")
				o.Interrupt()
			case <-stopCtx.Done():
			}
		}()
	}

	startTime := time.Now()

	results := make([]models.DeviceResult, len(targets))
	processed := make([]bool, len(targets))
	sem := make(chan struct{}, o.opts.Parallelism)
	var wg sync.WaitGroup

launch:
	for i, target := range targets {
		if o.stopping(stopCtx) {
			break
		}
		if i > 0 && o.opts.Parallelism == 1 {
			if err := o.sleep(stopCtx, o.opts.DevicePause); err != nil || o.stopping(stopCtx) {
				break
			}
		}
		select {
		case sem <- struct{}{}:
		case <-stopCtx.Done():
			break launch
		}
		if o.stopping(stopCtx) {
			<-sem
			break
		}

		wg.Add(1)
		go func(i int, target models.Target) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.processDevice(ctx, target, i+1, len(targets))
			processed[i] = true
		}(i, target)

		if o.opts.Parallelism == 1 {
			wg.Wait()
		}
	}
	wg.Wait()

	outcome := &Outcome{Results: make([]models.DeviceResult, 0, len(targets))}
	for i := range targets {
		if processed[i] {
			outcome.Results = append(outcome.Results, results[i])
		}
	}
	skipped := len(targets) - len(outcome.Results)
	outcome.Interrupted = skipped > 0
	outcome.Report = report.Aggregate(outcome.Results, time.Since(startTime), outcome.Interrupted, skipped)

	o.logger.LogSummary(outcome.Report)
	return outcome, nil
}

// stopping reports whether an interrupt or cancellation has been requested.
func (o *Orchestrator) stopping(stopCtx context.Context) bool {
	select {
	case <-o.interrupt:
		return true
	case <-stopCtx.Done():
		return true
	default:
		return false
	}
}

// processDevice produces exactly one DeviceResult for target. Any session
// the device opened is closed before it returns.
func (o *Orchestrator) processDevice(ctx context.Context, target models.Target, index, total int) models.DeviceResult {
	start := time.Now()
	device := target.Address()
	o.logger.LogDeviceStart(target, index, total)

	emit := func(kind models.EventKind, message string) {
		o.logger.LogEvent(models.DeviceEvent{Device: device, Kind: kind, Message: message, Time: time.Now()})
	}

	out := o.provisioner.Provision(ctx, target, emit)
	result := models.DeviceResult{
		Target:         target,
		Credentials:    out.Credentials,
		SetupPerformed: out.SetupPerformed,
		Commands:       []models.CommandResult{},
		StartedAt:      start,
	}

	if out.State != provision.StateReady || out.Session == nil {
		result.Status = out.State.DeviceStatus()
		result.Cause = failureMessage(out.State)
		if out.Err != nil {
			result.Cause += ": " + out.Err.Error()
		}
	} else {
		commands, allSucceeded := o.runner.Run(ctx, out.Session, target.Commands, emit)
		if err := out.Session.Close(); err != nil {
			emit(models.EventError, fmt.Sprintf("closing session: %v", err))
		}
		result.Commands = commands
		result.Status = models.StatusSucceeded
		if !allSucceeded {
			result.Status = models.StatusSucceededWithCmdFailure
			result.Cause = fmt.Sprintf("%d of %d commands failed", len(commands)-result.SucceededCommands(), len(commands))
		}
	}

	result.Duration = time.Since(start)
	emit(models.EventResult, string(result.Status))
	o.logger.LogDeviceResult(result)
	return result
}

func failureMessage(state provision.State) string {
	switch state {
	case provision.StateAuthFailed:
		return "authentication failed"
	case provision.StateSetupFailed:
		return "admin account setup failed"
	case provision.StateAmbiguous:
		return "connection failed for an unclear reason"
	default:
		return "device unreachable"
	}
}

type nopLogger struct{}

func (nopLogger) LogEvent(models.DeviceEvent) {}
func (nopLogger) LogDeviceStart(models.Target, int, int) {}
func (nopLogger) LogDeviceResult(models.DeviceResult) {}
func (nopLogger) LogSummary(models.FleetReport) {}

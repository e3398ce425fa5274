package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/transport"
)

// Timing holds the delays and timeouts the machine waits on.
type Timing struct {
	ConnectTimeout time.Duration // Bound on each session open
	SettleDelay    time.Duration // After a session opens and after account creation
	ReconnectDelay time.Duration // Between closing the factory session and reconnecting
	RetryBackoff   time.Duration // Before the single post-setup reconnect retry
	PromptTimeout  time.Duration // Each wizard prompt
	ConfirmTimeout time.Duration // Account-created confirmation
}

// Wizard describes the device's admin-creation conversation. Matching is case-insensitive.
type Wizard struct {
	Banner       []string // Text announcing the wizard
	UsernameText string
	PasswordText string
	VerifyText   string
	SuccessText  string
	Rejections   []string // Any of these at a step fails setup
}

// DefaultWizard matches the Crestron first-boot prompts.
func DefaultWizard() Wizard {
	return Wizard{
		Banner:       []string{"create a local administrator", "please create"},
		UsernameText: "username:",
		PasswordText: "password:",
		VerifyText:   "verify password:",
		SuccessText:  "successfully created",
		Rejections:   []string{"invalid", "error", "failed", "not allowed", "do not match"},
	}
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EmitFunc receives the machine's events for one device.
type EmitFunc func(kind models.EventKind, message string)

// Outcome is where the machine stopped for one device.
type Outcome struct {
	State          State
	Session        transport.Session // Open admin session; set only when State is StateReady
	Credentials    *models.CredentialPair
	SetupPerformed bool
	Err            error   // Cause of a failed terminal state
	Trail          []State // Every state visited, in order
}

// Machine drives one device at a time from Disconnected to a terminal state.
type Machine struct {
	dialer  transport.Dialer
	factory models.CredentialPair
	timing  Timing
	wizard  Wizard
	sleep   Sleeper
}

// NewMachine creates a Machine that opens sessions through dialer.
func NewMachine(dialer transport.Dialer, factory models.CredentialPair, timing Timing, wizard Wizard) *Machine {
	factory.Role = models.RoleFactory
	return &Machine{
		dialer:  dialer,
		factory: factory,
		timing:  timing,
		wizard:  wizard,
		sleep:   Sleep,
	}
}

// WithSleeper replaces the sleeper, mainly so tests run without real delays.
func (m *Machine) WithSleeper(s Sleeper) *Machine {
	m.sleep = s
	return m
}

// Provision runs the machine for target. On StateReady the caller owns
// Outcome.Session and must close it; every other session opened along the
// way has already been closed.
func (m *Machine) Provision(ctx context.Context, target models.Target, emit EmitFunc) Outcome {
	if emit == nil {
		emit = func(models.EventKind, string) {}
	}
	r := &run{m: m, target: target, emit: emit}
	r.enter(StateDisconnected, "")

	attempts := ResolveAttempts(target, m.factory)
	for i, creds := range attempts {
		if creds.Role == models.RoleFactory {
			r.enter(StateTryFactory, "")
		} else {
			r.enter(StateTryTarget, "")
		}

		sess, err := r.open(ctx, creds)
		if err == nil {
			if creds.Role == models.RoleFactory {
				return r.setup(ctx, sess)
			}
			return r.ready(ctx, sess, creds)
		}

		if transport.IsAuthError(err) && i+1 < len(attempts) {
			emit(models.EventRejected, fmt.Sprintf("%s rejected, trying %s", creds, attempts[i+1]))
			continue
		}
		return r.fail(err)
	}

	// ResolveAttempts always returns two pairs, so the loop returns above
	return r.fail(&transport.AuthError{Addr: target.Address(), Username: target.Username, Err: fmt.Errorf("no credentials to try")})
}

type run struct {
	m       *Machine
	target  models.Target
	emit    EmitFunc
	outcome Outcome
}

func (r *run) enter(state State, detail string) {
	r.outcome.State = state
	r.outcome.Trail = append(r.outcome.Trail, state)
	msg := string(state)
	if detail != "" {
		msg += ": " + detail
	}
	r.emit(models.EventState, msg)
}

func (r *run) open(ctx context.Context, creds models.CredentialPair) (transport.Session, error) {
	r.emit(models.EventAttempt, fmt.Sprintf("connecting to %s as %s", r.target.Address(), creds))
	return r.m.dialer.Open(ctx, r.target.Address(), creds, r.m.timing.ConnectTimeout)
}

// fail moves to the terminal state matching err.
func (r *run) fail(err error) Outcome {
	state := StateConnectFailed
	switch {
	case models.IsSetupError(err):
		state = StateSetupFailed
	case transport.IsAuthError(err):
		state = StateAuthFailed
	case transport.IsAmbiguousError(err):
		state = StateAmbiguous
	}
	r.outcome.Err = err
	r.outcome.Session = nil
	r.enter(state, err.Error())
	return r.outcome
}

// ready hands an authenticated session to the caller after the settle delay.
func (r *run) ready(ctx context.Context, sess transport.Session, creds models.CredentialPair) Outcome {
	if err := r.m.sleep(ctx, r.m.timing.SettleDelay); err != nil {
		sess.Close()
		return r.fail(&transport.ConnectionError{Addr: r.target.Address(), Err: err})
	}
	used := creds
	r.outcome.Credentials = &used
	r.outcome.Session = sess
	r.enter(StateReady, fmt.Sprintf("logged in as %s", creds))
	return r.outcome
}

// setup runs the admin-creation wizard over the factory session, then
// reconnects with the target credentials.
func (r *run) setup(ctx context.Context, sess transport.Session) Outcome {
	r.enter(StateNeedsSetup, "")
	if err := r.m.sleep(ctx, r.m.timing.SettleDelay); err != nil {
		sess.Close()
		return r.fail(&transport.ConnectionError{Addr: r.target.Address(), Err: err})
	}

	needed, err := r.converse(ctx, sess)
	if err != nil {
		sess.Close()
		return r.fail(err)
	}
	if !needed {
		r.emit(models.EventSetup, "no setup prompt shown, device already initialised")
		sess.Close()
		return r.connectTarget(ctx, false)
	}

	r.outcome.SetupPerformed = true
	r.emit(models.EventSetup, fmt.Sprintf("admin account %q created", r.target.Username))
	settleErr := r.m.sleep(ctx, r.m.timing.SettleDelay)
	sess.Close()
	if settleErr != nil {
		return r.fail(&transport.ConnectionError{Addr: r.target.Address(), Err: settleErr})
	}
	if err := r.m.sleep(ctx, r.m.timing.ReconnectDelay); err != nil {
		return r.fail(&transport.ConnectionError{Addr: r.target.Address(), Err: err})
	}
	return r.connectTarget(ctx, true)
}

// connectTarget opens the admin session. After account creation a failed
// open is retried once and a second failure is an authentication failure.
func (r *run) connectTarget(ctx context.Context, afterSetup bool) Outcome {
	r.enter(StateTryTarget, "")
	creds := TargetCredentials(r.target)

	sess, err := r.open(ctx, creds)
	if err != nil && afterSetup {
		r.emit(models.EventRejected, fmt.Sprintf("reconnect after setup failed (%v), retrying in %s", err, r.m.timing.RetryBackoff))
		if sleepErr := r.m.sleep(ctx, r.m.timing.RetryBackoff); sleepErr != nil {
			return r.fail(&transport.ConnectionError{Addr: r.target.Address(), Err: sleepErr})
		}
		sess, err = r.open(ctx, creds)
		if err != nil {
			return r.fail(&transport.AuthError{
				Addr:     r.target.Address(),
				Username: creds.Username,
				Err:      fmt.Errorf("new admin credentials not accepted after setup: %w", err),
			})
		}
	}
	if err != nil {
		return r.fail(err)
	}
	return r.ready(ctx, sess, creds)
}

// converse walks the wizard. It reports false when the device never shows it.
func (r *run) converse(ctx context.Context, sess transport.Session) (bool, error) {
	w := r.m.wizard
	t := r.m.timing

	wake := append(append([]string{}, w.Banner...), w.UsernameText)
	out, idx, err := sess.Expect(ctx, "\r", wake, t.PromptTimeout)
	r.received(out)
	if err != nil {
		if transport.IsTimeoutError(err) && ctx.Err() == nil {
			return false, nil
		}
		return false, r.setupError("setup prompt", out, err)
	}

	r.enter(StateProvisioning, "setup wizard detected")
	r.emit(models.EventSetup, "setup wizard detected")

	if idx < len(w.Banner) && !strings.Contains(strings.ToLower(out), w.UsernameText) {
		out, _, err = sess.Expect(ctx, "", []string{w.UsernameText}, t.PromptTimeout)
		r.received(out)
		if transport.IsTimeoutError(err) && ctx.Err() == nil {
			r.emit(models.EventSetup, "no username prompt yet, sending CR again")
			out, _, err = sess.Expect(ctx, "\r", []string{w.UsernameText}, t.PromptTimeout)
			r.received(out)
		}
		if err != nil {
			return true, r.setupError("username prompt", out, err)
		}
	}

	steps := []struct {
		name    string
		input   string
		expect  string
		timeout time.Duration
		logged  string
	}{
		{"password prompt", r.target.Username + "\r", w.PasswordText, t.PromptTimeout, "sent username " + r.target.Username},
		{"verify prompt", r.target.Password + "\r", w.VerifyText, t.PromptTimeout, "sent password"},
		{"confirmation", r.target.Password + "\r", w.SuccessText, t.ConfirmTimeout, "sent password confirmation"},
	}
	for _, step := range steps {
		patterns := append([]string{step.expect}, w.Rejections...)
		r.emit(models.EventSetup, step.logged)
		out, idx, err := sess.Expect(ctx, step.input, patterns, step.timeout)
		r.received(out)
		if err != nil {
			return true, r.setupError(step.name, out, err)
		}
		if idx != 0 {
			return true, r.setupError(step.name, out, fmt.Errorf("device rejected the step (%q)", patterns[idx]))
		}
	}
	return true, nil
}

// received logs wizard output with the admin password masked.
func (r *run) received(out string) {
	if out == "" {
		return
	}
	if r.target.Password != "" {
		out = strings.ReplaceAll(out, r.target.Password, "********")
	}
	r.emit(models.EventReceive, out)
}

func (r *run) setupError(step, output string, err error) error {
	if transport.IsConnectionError(err) {
		err = fmt.Errorf("session lost: %w", err)
	}
	return &models.SetupError{Host: r.target.Host, Step: step, Output: output, Err: err}
}

package provision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/transport"
	"github.com/harrison/crestprov/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTiming = Timing{
	ConnectTimeout: 10 * time.Second,
	SettleDelay:    3 * time.Second,
	ReconnectDelay: 2 * time.Second,
	RetryBackoff:   5 * time.Second,
	PromptTimeout:  5 * time.Second,
	ConfirmTimeout: 15 * time.Second,
}

var factoryPair = models.CredentialPair{Username: "Crestron", Password: ""}

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
	return ctx.Err()
}

type eventRecorder struct {
	kinds    []models.EventKind
	messages []string
}

func (e *eventRecorder) emit(kind models.EventKind, msg string) {
	e.kinds = append(e.kinds, kind)
	e.messages = append(e.messages, msg)
}

func newTestMachine(dialer transport.Dialer) (*Machine, *sleepRecorder) {
	rec := &sleepRecorder{}
	m := NewMachine(dialer, factoryPair, testTiming, DefaultWizard()).WithSleeper(rec.sleep)
	return m, rec
}

func wizardSession() *transporttest.FakeSession {
	s := transporttest.NewFakeSession()
	s.Wizard = []string{
		"\r\nPlease create a local administrator account.\r\nUsername: ",
		"admin\r\nPassword: ",
		"\r\nVerify password: ",
		"\r\nAccount successfully created.\r\n",
	}
	return s
}

func target(state models.PasswordState) models.Target {
	return models.Target{Host: "10.0.0.5", Port: 22, Username: "admin", Password: "pw", State: state}
}

func connErr() error {
	return &transport.ConnectionError{Addr: "10.0.0.5:22", Err: errors.New("no route to host")}
}

func TestProvisionFactoryFreshDevice(t *testing.T) {
	factorySess := wizardSession()
	adminSess := transporttest.NewFakeSession()
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Session: factorySess}).
		Queue("admin", transporttest.OpenResult{Session: adminSess})

	m, sleeps := newTestMachine(dialer)
	events := &eventRecorder{}
	out := m.Provision(context.Background(), target(models.StateUnknown), events.emit)

	require.NoError(t, out.Err)
	assert.Equal(t, StateReady, out.State)
	assert.Same(t, adminSess, out.Session)
	assert.True(t, out.SetupPerformed)
	require.NotNil(t, out.Credentials)
	assert.Equal(t, models.RoleTarget, out.Credentials.Role)
	assert.Equal(t, []State{
		StateDisconnected, StateTryFactory, StateNeedsSetup, StateProvisioning, StateTryTarget, StateReady,
	}, out.Trail)

	assert.Equal(t, []string{"\r", "admin\r", "pw\r", "pw\r"}, factorySess.Inputs())
	assert.Equal(t, 1, factorySess.Closed())
	assert.Equal(t, 0, adminSess.Closed(), "caller owns the ready session")

	assert.Equal(t, []time.Duration{
		testTiming.SettleDelay,    // after factory login
		testTiming.SettleDelay,    // after account creation
		testTiming.ReconnectDelay, // before reconnecting
		testTiming.SettleDelay,    // before handing over the session
	}, sleeps.calls)

	assert.Contains(t, events.kinds, models.EventSetup)
	for _, msg := range events.messages {
		assert.NotContains(t, msg, "pw\r", "passwords never reach the event stream")
	}
}

func TestProvisionWaitsForUsernamePrompt(t *testing.T) {
	factorySess := transporttest.NewFakeSession()
	factorySess.Wizard = []string{
		"Please create a local administrator account.\r\n",
		"",
		"Username: ",
		"admin\r\nPassword: ",
		"Verify password: ",
		"Account successfully created.",
	}
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Session: factorySess}).
		Queue("admin", transporttest.OpenResult{Session: transporttest.NewFakeSession()})

	m, _ := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateFactory), nil)

	require.NoError(t, out.Err)
	assert.Equal(t, StateReady, out.State)
	assert.Equal(t, []string{"\r", "", "\r", "admin\r", "pw\r", "pw\r"}, factorySess.Inputs(),
		"CR is re-sent once when the username prompt is slow")
}

func TestProvisionAlreadyProvisioned(t *testing.T) {
	adminSess := transporttest.NewFakeSession()
	dialer := transporttest.NewFakeDialer().
		Queue("admin", transporttest.OpenResult{Session: adminSess})

	m, _ := newTestMachine(dialer)
	events := &eventRecorder{}
	out := m.Provision(context.Background(), target(models.StateUnknown), events.emit)

	require.NoError(t, out.Err)
	assert.Equal(t, StateReady, out.State)
	assert.False(t, out.SetupPerformed)
	assert.Equal(t, []State{StateDisconnected, StateTryFactory, StateTryTarget, StateReady}, out.Trail)
	assert.Contains(t, events.kinds, models.EventRejected)

	calls := dialer.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, models.RoleFactory, calls[0].Creds.Role)
	assert.Equal(t, models.RoleTarget, calls[1].Creds.Role)
	assert.Equal(t, "10.0.0.5:22", calls[1].Addr)
}

func TestProvisionProvisionedHintTriesTargetFirst(t *testing.T) {
	dialer := transporttest.NewFakeDialer().
		Queue("admin", transporttest.OpenResult{Session: transporttest.NewFakeSession()})

	m, _ := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateProvisioned), nil)

	assert.Equal(t, StateReady, out.State)
	calls := dialer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "admin", calls[0].Creds.Username)
}

func TestProvisionProvisionedHintFallsBackToFactoryOnAuthError(t *testing.T) {
	factorySess := wizardSession()
	dialer := transporttest.NewFakeDialer().
		Queue("admin",
			transporttest.OpenResult{Err: &transport.AuthError{Addr: "10.0.0.5:22", Username: "admin", Err: errors.New("denied")}},
			transporttest.OpenResult{Session: transporttest.NewFakeSession()}).
		Queue("Crestron", transporttest.OpenResult{Session: factorySess})

	m, _ := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateProvisioned), nil)

	require.NoError(t, out.Err)
	assert.Equal(t, StateReady, out.State)
	assert.True(t, out.SetupPerformed)
	assert.Equal(t, []State{
		StateDisconnected, StateTryTarget, StateTryFactory, StateNeedsSetup, StateProvisioning, StateTryTarget, StateReady,
	}, out.Trail, "post-setup target attempt is final, no loop")
}

func TestProvisionProvisionedHintNoFallbackOnConnectionError(t *testing.T) {
	dialer := transporttest.NewFakeDialer().
		Queue("admin", transporttest.OpenResult{Err: connErr()})

	m, _ := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateProvisioned), nil)

	assert.Equal(t, StateConnectFailed, out.State)
	assert.Nil(t, out.Session)
	assert.Len(t, dialer.Calls(), 1, "factory pair is not tried after a connection error")
}

func TestProvisionUnreachable(t *testing.T) {
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Err: connErr()})

	m, sleeps := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateUnknown), nil)

	assert.Equal(t, StateConnectFailed, out.State)
	assert.Equal(t, models.StatusFailedConnection, out.State.DeviceStatus())
	assert.True(t, transport.IsConnectionError(out.Err))
	assert.Len(t, dialer.Calls(), 1)
	assert.Empty(t, sleeps.calls)
}

func TestProvisionBothPairsRejected(t *testing.T) {
	m, _ := newTestMachine(transporttest.NewFakeDialer())
	out := m.Provision(context.Background(), target(models.StateUnknown), nil)

	assert.Equal(t, StateAuthFailed, out.State)
	assert.True(t, transport.IsAuthError(out.Err))
	assert.Nil(t, out.Credentials)
}

func TestProvisionAmbiguousFailure(t *testing.T) {
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Err: &transport.AmbiguousError{Addr: "10.0.0.5:22", Err: errors.New("EOF")}})

	m, _ := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateUnknown), nil)

	assert.Equal(t, StateAmbiguous, out.State)
	assert.Equal(t, models.StatusFailedAmbiguous, out.State.DeviceStatus())
}

func TestProvisionSetupRejected(t *testing.T) {
	factorySess := wizardSession()
	factorySess.Wizard[3] = "\r\nError: password does not meet complexity requirements\r\n"
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Session: factorySess})

	m, _ := newTestMachine(dialer)
	events := &eventRecorder{}
	out := m.Provision(context.Background(), target(models.StateUnknown), events.emit)

	assert.Equal(t, StateSetupFailed, out.State)
	var received []string
	for i, kind := range events.kinds {
		if kind == models.EventReceive {
			received = append(received, events.messages[i])
		}
	}
	require.Len(t, received, 4, "every wizard reply reaches the log")
	assert.Contains(t, received[0], "Please create a local administrator account")
	assert.Contains(t, received[3], "complexity requirements")

	var setupErr *models.SetupError
	require.True(t, errors.As(out.Err, &setupErr))
	assert.Equal(t, "confirmation", setupErr.Step)
	assert.Contains(t, out.Err.Error(), "complexity requirements")
	assert.Equal(t, 1, factorySess.Closed())
	assert.Len(t, dialer.Calls(), 1, "target credentials never tried after setup failure")
}

func TestProvisionWizardOutputMasksPassword(t *testing.T) {
	factorySess := wizardSession()
	factorySess.Wizard[2] = "S3cret!\r\nVerify password: "
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Session: factorySess}).
		Queue("admin", transporttest.OpenResult{Session: transporttest.NewFakeSession()})

	m, _ := newTestMachine(dialer)
	events := &eventRecorder{}
	tgt := target(models.StateUnknown)
	tgt.Password = "S3cret!"
	out := m.Provision(context.Background(), tgt, events.emit)

	require.NoError(t, out.Err)
	assert.Contains(t, events.messages, "********\r\nVerify password: ")
	for _, msg := range events.messages {
		assert.NotContains(t, msg, "S3cret!")
	}
}

func TestProvisionSetupPromptMissing(t *testing.T) {
	factorySess := transporttest.NewFakeSession()
	factorySess.Wizard = []string{
		"\r\nPlease create a local administrator account.\r\n",
		"garbage",
		"more garbage",
	}
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Session: factorySess})

	m, _ := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateUnknown), nil)

	assert.Equal(t, StateSetupFailed, out.State)
	assert.Contains(t, out.Err.Error(), "username prompt")
}

func TestProvisionNoWizardShown(t *testing.T) {
	factorySess := transporttest.NewFakeSession()
	adminSess := transporttest.NewFakeSession()
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Session: factorySess}).
		Queue("admin", transporttest.OpenResult{Session: adminSess})

	m, _ := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateUnknown), nil)

	assert.Equal(t, StateReady, out.State)
	assert.False(t, out.SetupPerformed)
	assert.Equal(t, 1, factorySess.Closed())
	assert.Equal(t, []State{StateDisconnected, StateTryFactory, StateNeedsSetup, StateTryTarget, StateReady}, out.Trail)
}

func TestProvisionReconnectRetriedOnce(t *testing.T) {
	adminSess := transporttest.NewFakeSession()
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Session: wizardSession()}).
		Queue("admin",
			transporttest.OpenResult{Err: connErr()},
			transporttest.OpenResult{Session: adminSess})

	m, sleeps := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateUnknown), nil)

	assert.Equal(t, StateReady, out.State)
	assert.Same(t, adminSess, out.Session)
	assert.Contains(t, sleeps.calls, testTiming.RetryBackoff)
}

func TestProvisionReconnectFailsTwice(t *testing.T) {
	dialer := transporttest.NewFakeDialer().
		Queue("Crestron", transporttest.OpenResult{Session: wizardSession()}).
		Queue("admin",
			transporttest.OpenResult{Err: connErr()},
			transporttest.OpenResult{Err: connErr()})

	m, _ := newTestMachine(dialer)
	out := m.Provision(context.Background(), target(models.StateUnknown), nil)

	assert.Equal(t, StateAuthFailed, out.State)
	assert.True(t, out.SetupPerformed, "the account was created even though login failed")
	assert.True(t, transport.IsAuthError(out.Err))
	assert.Len(t, dialer.Calls(), 3)
}

func TestProvisionCancelledDuringSettle(t *testing.T) {
	adminSess := transporttest.NewFakeSession()
	dialer := transporttest.NewFakeDialer().
		Queue("admin", transporttest.OpenResult{Session: adminSess})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, _ := newTestMachine(dialer)
	out := m.Provision(ctx, target(models.StateProvisioned), nil)

	assert.Equal(t, StateConnectFailed, out.State)
	assert.Nil(t, out.Session)
	assert.Equal(t, 1, adminSess.Closed())
}

func TestSleepHonoursContext(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

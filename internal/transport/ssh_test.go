package transport_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/transport"
	"github.com/harrison/crestprov/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() transport.Options {
	return transport.Options{
		CommandTimeout: 2 * time.Second,
		IdleTimeout:    500 * time.Millisecond,
		DrainWindow:    20 * time.Millisecond,
	}
}

func startDevice(t *testing.T, dev *transporttest.Device) string {
	t.Helper()
	addr, err := dev.Start()
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return addr
}

func admin(password string) models.CredentialPair {
	return models.CredentialPair{Username: "admin", Password: password, Role: models.RoleTarget}
}

func TestOpenRefusedIsConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = transport.NewSSHDialer(testOptions()).Open(context.Background(), addr, admin("pw"), time.Second)
	require.Error(t, err)
	assert.True(t, transport.IsConnectionError(err), "got %T: %v", err, err)
	assert.False(t, transport.IsAuthError(err))
}

func TestOpenBadAddressIsConnectionError(t *testing.T) {
	_, err := transport.NewSSHDialer(testOptions()).Open(context.Background(), "no-port", admin("pw"), time.Second)
	assert.True(t, transport.IsConnectionError(err))
}

func TestOpenWrongPasswordIsAuthError(t *testing.T) {
	dev := transporttest.NewDevice()
	dev.AddAdmin("admin", "right")
	addr := startDevice(t, dev)

	_, err := transport.NewSSHDialer(testOptions()).Open(context.Background(), addr, admin("wrong"), 2*time.Second)
	require.Error(t, err)
	assert.True(t, transport.IsAuthError(err), "got %T: %v", err, err)
	assert.Contains(t, dev.Logins(), "admin")
}

func TestOpenSilentServerIsConnectionError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()

	_, err = transport.NewSSHDialer(testOptions()).Open(context.Background(), l.Addr().String(), admin("pw"), 300*time.Millisecond)
	require.Error(t, err)
	assert.True(t, transport.IsConnectionError(err), "got %T: %v", err, err)
}

func TestOpenGarbageServerIsAmbiguous(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		bufio.NewReader(conn).ReadString('\n')
		fmt.Fprint(conn, "HTTP/1.1 400 Bad Request\r\n\r\n")
		conn.Close()
	}()

	_, err = transport.NewSSHDialer(testOptions()).Open(context.Background(), l.Addr().String(), admin("pw"), 2*time.Second)
	require.Error(t, err)
	assert.True(t, transport.IsAmbiguousError(err), "got %T: %v", err, err)
}

func TestSendReturnsResponseAndPrompt(t *testing.T) {
	dev := transporttest.NewDevice()
	dev.AddAdmin("admin", "pw")
	addr := startDevice(t, dev)

	sess, err := transport.NewSSHDialer(testOptions()).Open(context.Background(), addr, admin("pw"), 2*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	start := time.Now()
	out, err := sess.Send(context.Background(), "ver")
	require.NoError(t, err)
	assert.Contains(t, out, "CP4 Cntrl Eng")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "CRESTRON>"), "read stops at the prompt: %q", out)
	assert.Less(t, time.Since(start), time.Second, "prompt ends the read before the idle timeout")

	out, err = sess.Send(context.Background(), "frobnicate")
	require.NoError(t, err)
	assert.Contains(t, out, "Bad or Incomplete Command")

	require.NoError(t, sess.Close())
	assert.NoError(t, sess.Close(), "close is idempotent")
}

func TestSendFallsBackToIdleTimeout(t *testing.T) {
	dev := transporttest.NewDevice()
	dev.Hostname = "CP4"
	dev.AddAdmin("admin", "pw")
	addr := startDevice(t, dev)

	opts := testOptions()
	opts.IdleTimeout = 200 * time.Millisecond
	sess, err := transport.NewSSHDialer(opts).Open(context.Background(), addr, admin("pw"), 2*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.Send(context.Background(), "hostname")
	require.NoError(t, err, "unrecognised prompt still completes once output goes quiet")
	assert.Contains(t, out, "Host Name: CRESTRON")
}

func TestSendCustomPromptPattern(t *testing.T) {
	dev := transporttest.NewDevice()
	dev.Hostname = "CP4"
	dev.AddAdmin("admin", "pw")
	addr := startDevice(t, dev)

	opts := testOptions()
	opts.PromptPattern = `CP4>\s*$`
	opts.IdleTimeout = 0
	sess, err := transport.NewSSHDialer(opts).Open(context.Background(), addr, admin("pw"), 2*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.Send(context.Background(), "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "admin")
}

func TestSendTimesOutWithoutPrompt(t *testing.T) {
	dev := transporttest.NewDevice()
	dev.Hostname = "CP4"
	dev.AddAdmin("admin", "pw")
	addr := startDevice(t, dev)

	opts := testOptions()
	opts.IdleTimeout = 0
	opts.CommandTimeout = 300 * time.Millisecond
	opts.PromptPattern = `NEVER-MATCHES>$`
	sess, err := transport.NewSSHDialer(opts).Open(context.Background(), addr, admin("pw"), 2*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	out, err := sess.Send(context.Background(), "ver")
	require.Error(t, err)
	assert.True(t, transport.IsTimeoutError(err))
	var te *transport.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, out, te.Output)
}

func TestExpectDrivesWizard(t *testing.T) {
	dev := transporttest.NewDevice()
	addr := startDevice(t, dev)

	factory := models.CredentialPair{Username: "Crestron", Password: "", Role: models.RoleFactory}
	sess, err := transport.NewSSHDialer(testOptions()).Open(context.Background(), addr, factory, 2*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	ctx := context.Background()
	wait := 2 * time.Second

	out, idx, err := sess.Expect(ctx, "\r", []string{"create a local administrator", "username:"}, wait)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Contains(t, strings.ToLower(out), "create a local administrator")

	_, idx, err = sess.Expect(ctx, "", []string{"USERNAME:"}, wait)
	require.NoError(t, err, "leftover output is kept between calls")
	assert.Equal(t, 0, idx)

	_, _, err = sess.Expect(ctx, "admin\r", []string{"password:"}, wait)
	require.NoError(t, err)
	_, _, err = sess.Expect(ctx, "s3cret\r", []string{"verify password:"}, wait)
	require.NoError(t, err)
	_, idx, err = sess.Expect(ctx, "s3cret\r", []string{"successfully created", "failed"}, wait)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.True(t, dev.Provisioned())

	_, _, err = sess.Expect(ctx, "", []string{"never"}, 100*time.Millisecond)
	assert.Error(t, err, "the wizard closes the channel or times out")
}

func TestExpectTimeout(t *testing.T) {
	dev := transporttest.NewDevice()
	dev.AddAdmin("admin", "pw")
	addr := startDevice(t, dev)

	sess, err := transport.NewSSHDialer(testOptions()).Open(context.Background(), addr, admin("pw"), 2*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	_, idx, err := sess.Expect(context.Background(), "", []string{"create a local administrator"}, 200*time.Millisecond)
	assert.Equal(t, -1, idx)
	assert.True(t, transport.IsTimeoutError(err))
}

func TestExpectContextCancel(t *testing.T) {
	dev := transporttest.NewDevice()
	dev.AddAdmin("admin", "pw")
	addr := startDevice(t, dev)

	sess, err := transport.NewSSHDialer(testOptions()).Open(context.Background(), addr, admin("pw"), 2*time.Second)
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = sess.Expect(ctx, "", []string{"never"}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("boom")
	assert.Equal(t, "connect to h:22: boom", (&transport.ConnectionError{Addr: "h:22", Err: cause}).Error())
	assert.Equal(t, "authentication as admin rejected by h:22: boom", (&transport.AuthError{Addr: "h:22", Username: "admin", Err: cause}).Error())
	assert.Equal(t, "connection to h:22 failed: boom", (&transport.AmbiguousError{Addr: "h:22", Err: cause}).Error())

	te := &transport.TimeoutError{Operation: `command "ver"`, Timeout: time.Second}
	assert.Equal(t, `command "ver": timeout after 1s`, te.Error())
	assert.ErrorIs(t, te, context.DeadlineExceeded)
	assert.False(t, transport.IsTimeoutError(nil))
}

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"golang.org/x/crypto/ssh"
)

// Options tunes the interactive shell.
type Options struct {
	TermType       string        // PTY terminal type
	Width          int           // PTY columns
	Height         int           // PTY rows
	PromptPattern  string        // Regexp for the device prompt; empty uses the built-in pattern
	CommandTimeout time.Duration // Upper bound on the read after a command
	IdleTimeout    time.Duration // Read ends once output has been quiet this long (0 disables)
	DrainWindow    time.Duration // Stale output is discarded for this long before each command
}

// DefaultOptions returns the shell settings used for Crestron processors.
func DefaultOptions() Options {
	return Options{
		TermType:       "vt100",
		Width:          80,
		Height:         24,
		CommandTimeout: 10 * time.Second,
		IdleTimeout:    1500 * time.Millisecond,
		DrainWindow:    100 * time.Millisecond,
	}
}

// SSHDialer opens shell sessions over SSH.
type SSHDialer struct {
	opts Options
}

// NewSSHDialer creates a dialer. Zero-valued options fall back to DefaultOptions.
func NewSSHDialer(opts Options) *SSHDialer {
	def := DefaultOptions()
	if opts.TermType == "" {
		opts.TermType = def.TermType
	}
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = def.CommandTimeout
	}
	if opts.DrainWindow <= 0 {
		opts.DrainWindow = def.DrainWindow
	}
	return &SSHDialer{opts: opts}
}

// Open connects to addr, authenticates with creds and starts a PTY shell.
// Host keys are not verified: factory-fresh devices have no known key.
func (d *SSHDialer) Open(ctx context.Context, addr string, creds models.CredentialPair, connectTimeout time.Duration) (Session, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	prompt, err := d.promptRegexp(host)
	if err != nil {
		return nil, fmt.Errorf("invalid prompt pattern: %w", err)
	}

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	// The handshake shares the connect timeout and is aborted if ctx ends
	conn.SetDeadline(time.Now().Add(connectTimeout))
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})

	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = creds.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stopped := stop()
	if err != nil {
		conn.Close()
		if !stopped {
			return nil, &ConnectionError{Addr: addr, Err: ctx.Err()}
		}
		return nil, classifyHandshakeError(addr, creds.Username, err)
	}
	conn.SetDeadline(time.Time{})

	client := ssh.NewClient(c, chans, reqs)
	sess, err := startShell(client, addr, prompt, d.opts)
	if err != nil {
		client.Close()
		return nil, &AmbiguousError{Addr: addr, Err: fmt.Errorf("start shell: %w", err)}
	}
	return sess, nil
}

func (d *SSHDialer) promptRegexp(host string) (*regexp.Regexp, error) {
	if d.opts.PromptPattern != "" {
		return regexp.Compile(d.opts.PromptPattern)
	}
	return regexp.Compile(fmt.Sprintf(`(?i)[\w.\-]*(?:crestron|%s)[\w.\-]*>\s*$`, regexp.QuoteMeta(host)))
}

// classifyHandshakeError maps an SSH handshake failure onto the error taxonomy.
func classifyHandshakeError(addr, username string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return &AuthError{Addr: addr, Username: username, Err: err}
	}

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || strings.Contains(msg, "i/o timeout") {
		return &ConnectionError{Addr: addr, Err: err}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		strings.Contains(msg, "connection reset by peer") {
		return &ConnectionError{Addr: addr, Err: err}
	}

	return &AmbiguousError{Addr: addr, Err: err}
}

type sshSession struct {
	addr    string
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	prompt  *regexp.Regexp
	opts    Options

	chunks    chan []byte
	done      chan struct{}
	pending   []byte
	closeOnce sync.Once
	closeErr  error
}

func startShell(client *ssh.Client, addr string, prompt *regexp.Regexp, opts Options) (*sshSession, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty(opts.TermType, opts.Height, opts.Width, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("shell: %w", err)
	}

	s := &sshSession{
		addr:    addr,
		client:  client,
		session: session,
		stdin:   stdin,
		prompt:  prompt,
		opts:    opts,
		chunks:  make(chan []byte, 256),
		done:    make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(stdout, &wg)
	go s.pump(stderr, &wg)
	go func() {
		wg.Wait()
		close(s.chunks)
	}()

	return s, nil
}

// pump copies shell output onto the chunk channel until the stream ends.
func (s *sshSession) pump(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *sshSession) write(data string) error {
	if _, err := io.WriteString(s.stdin, data); err != nil {
		return &ConnectionError{Addr: s.addr, Err: fmt.Errorf("write: %w", err)}
	}
	return nil
}

func (s *sshSession) closedError() error {
	return &ConnectionError{Addr: s.addr, Err: errors.New("session closed by device")}
}

// drain discards output that arrived before a command was sent.
func (s *sshSession) drain() {
	s.pending = nil
	timer := time.NewTimer(s.opts.DrainWindow)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-s.chunks:
			if !ok {
				return
			}
		case <-timer.C:
			return
		}
	}
}

// Send writes command and reads until the prompt returns, output goes idle
// or the command timeout passes.
func (s *sshSession) Send(ctx context.Context, command string) (string, error) {
	s.drain()
	if err := s.write(command + "\r\n"); err != nil {
		return "", err
	}

	var out strings.Builder
	deadline := time.NewTimer(s.opts.CommandTimeout)
	defer deadline.Stop()

	var idleC <-chan time.Time
	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return out.String(), ctx.Err()
		case <-deadline.C:
			return out.String(), &TimeoutError{Operation: fmt.Sprintf("command %q", command), Timeout: s.opts.CommandTimeout, Output: out.String()}
		case <-idleC:
			return out.String(), nil
		case chunk, ok := <-s.chunks:
			if !ok {
				return out.String(), s.closedError()
			}
			out.Write(chunk)
			if s.promptReturned(out.String()) {
				return out.String(), nil
			}
			if s.opts.IdleTimeout > 0 {
				idle.Reset(s.opts.IdleTimeout)
				idleC = idle.C
			}
		}
	}
}

// promptReturned reports whether output ends with the device prompt.
// Only text after the first line break counts, so a stale prompt followed by
// the command echo is not mistaken for completion.
func (s *sshSession) promptReturned(output string) bool {
	idx := strings.IndexByte(output, '\n')
	if idx < 0 {
		return false
	}
	return s.prompt.MatchString(output[idx+1:])
}

// Expect writes input and waits for the earliest of patterns to appear.
// Output after the match is kept for the next call.
func (s *sshSession) Expect(ctx context.Context, input string, patterns []string, timeout time.Duration) (string, int, error) {
	if input != "" {
		if err := s.write(input); err != nil {
			return "", -1, err
		}
	}

	lowered := make([][]byte, len(patterns))
	for i, p := range patterns {
		lowered[i] = asciiLower([]byte(p))
	}

	buf := s.pending
	s.pending = nil

	match := func() (string, int, bool) {
		text := asciiLower(buf)
		best, bestAt, bestEnd := -1, -1, 0
		for i, p := range lowered {
			if len(p) == 0 {
				continue
			}
			if at := bytes.Index(text, p); at >= 0 && (best < 0 || at < bestAt) {
				best, bestAt, bestEnd = i, at, at+len(p)
			}
		}
		if best < 0 {
			return "", -1, false
		}
		s.pending = append([]byte(nil), buf[bestEnd:]...)
		return string(buf[:bestEnd]), best, true
	}

	if out, idx, ok := match(); ok {
		return out, idx, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return string(buf), -1, ctx.Err()
		case <-timer.C:
			return string(buf), -1, &TimeoutError{
				Operation: fmt.Sprintf("waiting for %s", strings.Join(patterns, " | ")),
				Timeout:   timeout,
				Output:    string(buf),
			}
		case chunk, ok := <-s.chunks:
			if !ok {
				return string(buf), -1, s.closedError()
			}
			buf = append(buf, chunk...)
			if out, idx, ok := match(); ok {
				return out, idx, nil
			}
		}
	}
}

// Close ends the shell and the SSH connection.
func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.session.Close()
		if err := s.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// asciiLower lowercases ASCII letters without changing byte offsets.
func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

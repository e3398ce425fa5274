package transporttest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/harrison/crestprov/internal/models"
	"github.com/harrison/crestprov/internal/transport"
)

// OpenResult is one scripted outcome of FakeDialer.Open.
type OpenResult struct {
	Session *FakeSession
	Err     error
}

// OpenCall records one FakeDialer.Open invocation.
type OpenCall struct {
	Addr  string
	Creds models.CredentialPair
}

// FakeDialer hands out scripted results per username, in queue order.
// A username with nothing queued is rejected with an AuthError.
type FakeDialer struct {
	mu      sync.Mutex
	results map[string][]OpenResult
	calls   []OpenCall
}

// NewFakeDialer creates an empty FakeDialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{results: map[string][]OpenResult{}}
}

// Queue appends results for logins as username.
func (f *FakeDialer) Queue(username string, results ...OpenResult) *FakeDialer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[username] = append(f.results[username], results...)
	return f
}

// Calls returns every Open call so far.
func (f *FakeDialer) Calls() []OpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OpenCall(nil), f.calls...)
}

// Open pops the next scripted result for creds.Username.
func (f *FakeDialer) Open(ctx context.Context, addr string, creds models.CredentialPair, connectTimeout time.Duration) (transport.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, OpenCall{Addr: addr, Creds: creds})

	queue := f.results[creds.Username]
	if len(queue) == 0 {
		return nil, &transport.AuthError{Addr: addr, Username: creds.Username, Err: errRejected}
	}
	next := queue[0]
	f.results[creds.Username] = queue[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return next.Session, nil
}

var errRejected = errors.New("password rejected")

// Reply is a scripted answer to FakeSession.Send.
type Reply struct {
	Output string
	Err    error
}

// FakeSession is a scripted Session.
// Send answers from Replies; commands without a reply get an echo, the
// Crestron error text and a prompt. Expect consumes Wizard outputs in order
// and matches patterns against them the way the SSH session does.
type FakeSession struct {
	Replies map[string]Reply
	Wizard  []string

	mu     sync.Mutex
	sent   []string
	inputs []string
	closed int
}

// NewFakeSession creates a session with no scripted replies.
func NewFakeSession() *FakeSession {
	return &FakeSession{Replies: map[string]Reply{}}
}

// Reply scripts the answer to command and returns the session for chaining.
func (s *FakeSession) Reply(command, output string, err error) *FakeSession {
	s.Replies[command] = Reply{Output: output, Err: err}
	return s
}

// Send records command and returns its scripted reply.
func (s *FakeSession) Send(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, command)
	if r, ok := s.Replies[command]; ok {
		return r.Output, r.Err
	}
	return command + "\r\nBad or Incomplete Command\r\nCRESTRON>", nil
}

// Expect records input and matches patterns against the next wizard output.
// With no output left it times out.
func (s *FakeSession) Expect(ctx context.Context, input string, patterns []string, timeout time.Duration) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)

	if len(s.Wizard) == 0 {
		return "", -1, &transport.TimeoutError{Operation: "waiting for " + strings.Join(patterns, " | "), Timeout: timeout}
	}
	out := s.Wizard[0]
	s.Wizard = s.Wizard[1:]

	lower := strings.ToLower(out)
	best, bestAt := -1, -1
	for i, p := range patterns {
		if at := strings.Index(lower, strings.ToLower(p)); at >= 0 && (best < 0 || at < bestAt) {
			best, bestAt = i, at
		}
	}
	if best < 0 {
		return out, -1, &transport.TimeoutError{Operation: "waiting for " + strings.Join(patterns, " | "), Timeout: timeout, Output: out}
	}
	return out, best, nil
}

// Close counts closes.
func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Sent returns the commands sent so far.
func (s *FakeSession) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// Inputs returns every Expect input so far.
func (s *FakeSession) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

// Closed returns how many times Close was called.
func (s *FakeSession) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Package transport opens interactive SSH shell sessions on Crestron devices.
//
// A Session reads the shell's output on a background goroutine. Send writes a
// command and collects output until the device prompt returns, output goes idle
// or the command timeout passes. Expect is used for the admin-creation wizard,
// where the caller waits for specific prompt text.
//
// Open classifies failures as *ConnectionError (unreachable), *AuthError
// (credentials refused) or *AmbiguousError (anything else).
package transport

import (
	"context"
	"time"

	"github.com/harrison/crestprov/internal/models"
)

// Dialer opens authenticated sessions.
type Dialer interface {
	Open(ctx context.Context, addr string, creds models.CredentialPair, connectTimeout time.Duration) (Session, error)
}

// Session is an open interactive shell on one device.
// A Session is used by one goroutine at a time.
type Session interface {
	// Send writes command followed by CRLF and returns the raw output read back.
	Send(ctx context.Context, command string) (string, error)

	// Expect writes input (verbatim, if non-empty) and waits until one of
	// patterns appears in the output, matching case-insensitively. It returns
	// the output consumed and the index of the matched pattern.
	Expect(ctx context.Context, input string, patterns []string, timeout time.Duration) (string, int, error)

	// Close ends the shell and the connection. Safe to call more than once.
	Close() error
}

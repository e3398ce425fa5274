package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// PasswordState is the optional hint about a device's credential state.
type PasswordState string

const (
	StateUnknown     PasswordState = "unknown"     // Nothing known; factory credentials are tried first
	StateFactory     PasswordState = "factory"     // Device is believed to be factory fresh
	StateProvisioned PasswordState = "provisioned" // Admin account believed to exist already
)

// ParsePasswordState converts a configuration value into a PasswordState.
// Empty input maps to StateUnknown.
func ParsePasswordState(value string) (PasswordState, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "unknown":
		return StateUnknown, nil
	case "factory", "new", "fresh":
		return StateFactory, nil
	case "provisioned", "configured":
		return StateProvisioned, nil
	default:
		return "", fmt.Errorf("invalid password state %q (valid: unknown, factory, provisioned)", value)
	}
}

// Target is one device to provision, as loaded from the configuration file.
// Targets are not modified once the run starts.
type Target struct {
	Host           string        // IP address or hostname
	Port           int           // SSH port
	Username       string        // Admin account to create or log in as
	Password       string        // Admin password
	PasswordPrompt bool          // Password must be supplied interactively before the run
	State          PasswordState // Credential state hint
	Commands       []string      // Ordered, blank entries already removed
	Row            int           // Source line in the configuration file
}

// Address returns host:port for dialing.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// WithPassword returns a copy of the target with the password filled in.
func (t Target) WithPassword(password string) Target {
	t.Password = password
	t.PasswordPrompt = false
	return t
}

// WithCommands returns a copy of the target using the given command list.
func (t Target) WithCommands(commands []string) Target {
	t.Commands = append([]string(nil), commands...)
	return t
}

// CredentialRole distinguishes the factory default account from the admin account.
type CredentialRole string

const (
	RoleFactory CredentialRole = "factory"
	RoleTarget  CredentialRole = "target"
)

// CredentialPair is a username and password tried during login.
type CredentialPair struct {
	Username string
	Password string
	Role     CredentialRole
}

// String identifies the pair without revealing the password.
func (c CredentialPair) String() string {
	return fmt.Sprintf("%s (%s)", c.Username, c.Role)
}

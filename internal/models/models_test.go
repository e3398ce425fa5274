package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePasswordState(t *testing.T) {
	tests := []struct {
		input   string
		want    PasswordState
		wantErr bool
	}{
		{"", StateUnknown, false},
		{"unknown", StateUnknown, false},
		{"Factory", StateFactory, false},
		{" provisioned ", StateProvisioned, false},
		{"configured", StateProvisioned, false},
		{"maybe", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePasswordState(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetAddress(t *testing.T) {
	assert.Equal(t, "10.0.1.36:22", Target{Host: "10.0.1.36", Port: 22}.Address())
	assert.Equal(t, "[fe80::1]:2222", Target{Host: "fe80::1", Port: 2222}.Address())
}

func TestTargetCopies(t *testing.T) {
	orig := Target{Host: "h", PasswordPrompt: true, Commands: []string{"ver"}}

	withPass := orig.WithPassword("secret")
	assert.Equal(t, "secret", withPass.Password)
	assert.False(t, withPass.PasswordPrompt)
	assert.True(t, orig.PasswordPrompt)

	cmds := []string{"hostname", "ipconfig"}
	withCmds := orig.WithCommands(cmds)
	cmds[0] = "changed"
	assert.Equal(t, []string{"hostname", "ipconfig"}, withCmds.Commands)
	assert.Equal(t, []string{"ver"}, orig.Commands)
}

func TestCredentialPairStringHidesPassword(t *testing.T) {
	pair := CredentialPair{Username: "admin", Password: "hunter2", Role: RoleTarget}
	assert.Equal(t, "admin (target)", pair.String())
	assert.NotContains(t, fmt.Sprintf("%v", pair), "hunter2")
}

func TestDeviceStatusPredicates(t *testing.T) {
	for _, s := range AllStatuses {
		assert.Equal(t, s == StatusSucceeded, s.Succeeded(), s)
	}
	assert.True(t, StatusSucceededWithCmdFailure.Connected())
	assert.False(t, StatusFailedSetup.Connected())
}

func TestDeviceResultSucceededCommands(t *testing.T) {
	r := DeviceResult{Commands: []CommandResult{{Success: true}, {Success: false}, {Success: true}}}
	assert.Equal(t, 2, r.SucceededCommands())
	assert.Equal(t, 0, DeviceResult{}.SucceededCommands())
}

func TestConfigError(t *testing.T) {
	cause := errors.New("strconv failure")
	err := fmt.Errorf("load: %w", &ConfigError{Path: "devices.csv", Row: 4, Message: "invalid port", Err: cause})

	assert.True(t, IsConfigError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "devices.csv:4: invalid port")

	noRow := &ConfigError{Path: "devices.csv", Message: "empty file"}
	assert.Equal(t, "devices.csv: empty file", noRow.Error())
}

func TestSetupErrorMessage(t *testing.T) {
	err := &SetupError{Host: "10.0.0.5", Step: "confirmation", Output: "Verify password: \r\nError: password too short\r\n"}
	assert.True(t, IsSetupError(err))
	assert.Equal(t, `setup failed on 10.0.0.5 at confirmation (device said "Error: password too short")`, err.Error())
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: "ver", Reason: "no response"}
	assert.Equal(t, `command "ver": no response`, err.Error())

	wrapped := &CommandError{Command: "ver", Reason: "send failed", Err: errors.New("EOF")}
	assert.Equal(t, `command "ver": send failed: EOF`, wrapped.Error())
}

package provision

import "github.com/harrison/crestprov/internal/models"

// State is a step of the per-device provisioning machine.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateTryFactory    State = "try-factory"
	StateNeedsSetup    State = "needs-setup"
	StateProvisioning  State = "provisioning"
	StateTryTarget     State = "try-target"
	StateReady         State = "ready"
	StateConnectFailed State = "connect-failed"
	StateAuthFailed    State = "auth-failed"
	StateSetupFailed   State = "setup-failed"
	StateAmbiguous     State = "ambiguous"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	switch s {
	case StateReady, StateConnectFailed, StateAuthFailed, StateSetupFailed, StateAmbiguous:
		return true
	}
	return false
}

// DeviceStatus maps a failed terminal state to the device status reported for it.
// StateReady maps to StatusSucceeded; the command runner may downgrade it later.
func (s State) DeviceStatus() models.DeviceStatus {
	switch s {
	case StateReady:
		return models.StatusSucceeded
	case StateAuthFailed:
		return models.StatusFailedAuth
	case StateSetupFailed:
		return models.StatusFailedSetup
	case StateAmbiguous:
		return models.StatusFailedAmbiguous
	default:
		return models.StatusFailedConnection
	}
}

// Package provision brings a device from any credential state to an
// authenticated admin session, creating the admin account when the device is
// still factory fresh.
package provision

import "github.com/harrison/crestprov/internal/models"

// ResolveAttempts returns the credential pairs to try, in order.
//
// Targets hinted as provisioned (with a password) try their own pair first and
// fall back to the factory pair. Everything else starts with the factory pair.
// In both orders the second pair is only tried after the first was rejected
// with an authentication error.
func ResolveAttempts(target models.Target, factory models.CredentialPair) []models.CredentialPair {
	factory.Role = models.RoleFactory
	own := TargetCredentials(target)

	if target.State == models.StateProvisioned && target.Password != "" {
		return []models.CredentialPair{own, factory}
	}
	return []models.CredentialPair{factory, own}
}

// TargetCredentials returns the admin pair configured for target.
func TargetCredentials(target models.Target) models.CredentialPair {
	return models.CredentialPair{
		Username: target.Username,
		Password: target.Password,
		Role:     models.RoleTarget,
	}
}

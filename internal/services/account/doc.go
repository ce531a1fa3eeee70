// Package account manages creation and unlocking of the local identity.
//
// It enforces passphrase policy, generates the key material through the
// identity package, and persists it via the domain.IdentityStore.
package account

package account

import (
	"fmt"
	"unicode"

	"ecliptix/internal/domain"
	"ecliptix/internal/identity"
)

// minPassphraseLength is the minimum number of characters required for a
// passphrase.
const minPassphraseLength = 12

// ErrWeakPassphrase is returned when the passphrase fails the strength
// policy.
var ErrWeakPassphrase = fmt.Errorf(
	"passphrase is too weak (must be at least %d characters and include upper, lower, "+
		"number, and symbol)",
	minPassphraseLength,
)

// Service manages the local account: identity creation under the passphrase
// policy, and unlocking it into guarded memory.
type Service struct {
	store domain.IdentityStore
}

// New returns an account service backed by the given store.
func New(store domain.IdentityStore) *Service { return &Service{store: store} }

// Create generates a fresh identity with oneTimeCount one-time pre-keys and
// saves it encrypted under passphrase. The returned keys are live; the
// caller owns them.
func (s *Service) Create(passphrase string, oneTimeCount int) (*identity.Keys, error) {
	if !isSecurePassphrase(passphrase) {
		return nil, ErrWeakPassphrase
	}
	if oneTimeCount <= 0 {
		oneTimeCount = identity.DefaultOneTimePreKeyCount
	}
	keys, err := identity.Generate(oneTimeCount)
	if err != nil {
		return nil, err
	}
	m, err := keys.Material()
	if err != nil {
		keys.Destroy()
		return nil, err
	}
	defer m.Wipe()
	if err := s.store.SaveKeyMaterial(passphrase, m); err != nil {
		keys.Destroy()
		return nil, err
	}
	return keys, nil
}

// Unlock decrypts the stored identity and loads it into guarded memory.
func (s *Service) Unlock(passphrase string) (*identity.Keys, error) {
	m, err := s.store.LoadKeyMaterial(passphrase)
	if err != nil {
		return nil, err
	}
	return identity.FromMaterial(m)
}

// Exists reports whether an identity has been created.
func (s *Service) Exists() bool { return s.store.HasKeyMaterial() }

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

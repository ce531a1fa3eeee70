package store

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/securemem"
)

const keyMaterialFile = "identity.enc"

// KeyStore persists the endpoint's key material on disk, sealed under a
// passphrase-derived key.
type KeyStore struct {
	dir string
	mu  sync.Mutex
}

var _ domain.IdentityStore = (*KeyStore)(nil)

// NewKeyStore stores under dir, creating it on first save.
func NewKeyStore(dir string) *KeyStore { return &KeyStore{dir: dir} }

// SaveKeyMaterial seals m and writes it atomically. m is not wiped; the
// caller owns it.
func (s *KeyStore) SaveKeyMaterial(passphrase string, m *domain.KeyMaterial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := cbor.Marshal(m)
	if err != nil {
		return failure.Wrap(failure.Decode, "encode key material", err)
	}
	defer securemem.Wipe(raw)

	N, r, p := scryptParamsDefault()
	sealed, err := encrypt(passphrase, raw, N, r, p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return failure.Wrap(failure.Allocation, "keystore directory", err)
	}
	path := filepath.Join(s.dir, keyMaterialFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return failure.Wrap(failure.Allocation, "write keystore", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return failure.Wrap(failure.Allocation, "commit keystore", err)
	}
	return nil
}

// LoadKeyMaterial opens the sealed material. The caller must Wipe the
// result once it is moved into guarded memory.
func (s *KeyStore) LoadKeyMaterial(passphrase string) (*domain.KeyMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(filepath.Join(s.dir, keyMaterialFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, failure.New(failure.StateMissing, "no identity in keystore")
	}
	if err != nil {
		return nil, failure.Wrap(failure.Allocation, "read keystore", err)
	}

	raw, err := decrypt(passphrase, sealed)
	if err != nil {
		return nil, err
	}
	defer securemem.Wipe(raw)

	var m domain.KeyMaterial
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return nil, failure.Wrap(failure.Decode, "decode key material", err)
	}
	return &m, nil
}

// HasKeyMaterial reports whether an identity has been saved.
func (s *KeyStore) HasKeyMaterial() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(filepath.Join(s.dir, keyMaterialFile))
	return err == nil
}

package channel

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"ecliptix/internal/crypto"
	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/identity"
	"ecliptix/internal/securemem"
)

// stateSealLabel scopes the key that encrypts channel state at rest.
const stateSealLabel = "ecliptix-state-seal"

// deriveSealKey expands the sealing key from the identity agreement private
// key. The same identity always derives the same key, so state written
// before a restart opens after it.
func deriveSealKey(keys *identity.Keys) (*securemem.Handle, error) {
	var ikm domain.X25519Private
	if err := keys.AgreementHandle().Read(ikm[:]); err != nil {
		return nil, err
	}
	defer securemem.Wipe(ikm[:])

	key := make([]byte, crypto.AEADKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm[:], nil, []byte(stateSealLabel)), key); err != nil {
		securemem.Wipe(key)
		return nil, failure.Wrap(failure.KeyDerivation, "state seal key", err)
	}
	return securemem.FromBytes(key)
}

// sealRecord encrypts an encoded channel record for the state store. A
// random nonce is prepended and the connect id is bound as associated data,
// so a blob filed under the wrong connection refuses to open.
func (s *Service) sealRecord(connect domain.ConnectID, plain []byte) ([]byte, error) {
	nonce := make([]byte, crypto.AEADNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, failure.Wrap(failure.KeyGeneration, "seal nonce", err)
	}
	ct, err := crypto.Seal(s.sealKey, nonce, plain, connectAD(connect))
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// openSealed reverses sealRecord.
func (s *Service) openSealed(connect domain.ConnectID, sealed []byte) ([]byte, error) {
	if len(sealed) < crypto.AEADNonceSize+crypto.AEADTagSize {
		return nil, failure.Newf(failure.Decode, "sealed state length %d", len(sealed))
	}
	return crypto.Open(s.sealKey, sealed[:crypto.AEADNonceSize], sealed[crypto.AEADNonceSize:], connectAD(connect))
}

func connectAD(connect domain.ConnectID) []byte {
	var ad [8]byte
	binary.BigEndian.PutUint64(ad[:], uint64(connect))
	return ad[:]
}

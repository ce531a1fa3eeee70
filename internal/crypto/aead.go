package crypto

import (
	"golang.org/x/crypto/chacha20poly1305"

	"ecliptix/internal/failure"
	"ecliptix/internal/securemem"
)

const (
	// AEADKeySize is the ChaCha20-Poly1305 key length.
	AEADKeySize = chacha20poly1305.KeySize
	// AEADNonceSize is the nonce length for every envelope.
	AEADNonceSize = chacha20poly1305.NonceSize
	// AEADTagSize is the Poly1305 authentication tag length appended to ciphertext.
	AEADTagSize = chacha20poly1305.Overhead
)

// Seal encrypts plaintext under the keyed AEAD and returns ciphertext with
// the tag appended. The key is read through its handle for the duration of
// the call only.
func Seal(key *securemem.Handle, nonce, plaintext, ad []byte) ([]byte, error) {
	if len(nonce) != AEADNonceSize {
		return nil, failure.Newf(failure.InvalidInput, "nonce length %d", len(nonce))
	}
	var out []byte
	err := key.With(func(kb []byte) error {
		if len(kb) != AEADKeySize {
			return failure.Newf(failure.InvalidInput, "aead key length %d", len(kb))
		}
		aead, err := chacha20poly1305.New(kb)
		if err != nil {
			return failure.Wrap(failure.InvalidInput, "aead init", err)
		}
		out = aead.Seal(nil, nonce, plaintext, ad)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Open authenticates and decrypts ciphertext produced by Seal. A truncated
// ciphertext (shorter than the tag) is rejected before any key use; every
// authentication problem surfaces as the same Decryption failure.
func Open(key *securemem.Handle, nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(nonce) != AEADNonceSize {
		return nil, failure.Newf(failure.InvalidInput, "nonce length %d", len(nonce))
	}
	if len(ciphertext) < AEADTagSize {
		return nil, failure.Newf(failure.BufferTooSmall, "ciphertext length %d below tag size", len(ciphertext))
	}
	var out []byte
	err := key.With(func(kb []byte) error {
		if len(kb) != AEADKeySize {
			return failure.Newf(failure.InvalidInput, "aead key length %d", len(kb))
		}
		aead, err := chacha20poly1305.New(kb)
		if err != nil {
			return failure.Wrap(failure.InvalidInput, "aead init", err)
		}
		pt, err := aead.Open(nil, nonce, ciphertext, ad)
		if err != nil {
			return failure.New(failure.Decryption, "open envelope")
		}
		out = pt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

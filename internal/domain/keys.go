package domain

import "fmt"

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// IsZero reports whether the key is all zero bytes. A zero agreement key is
// never valid on the wire.
func (p X25519Public) IsZero() bool {
	var zero X25519Public
	return p == zero
}

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key (ed25519.PrivateKey layout).
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// MustX25519Public copies b into a fixed key array, panicking on bad length.
// For attacker-controlled input use X25519PublicFromBytes instead.
func MustX25519Public(b []byte) X25519Public {
	if len(b) != 32 {
		panic(fmt.Errorf("X25519 public: want 32 bytes, got %d", len(b)))
	}
	var out X25519Public
	copy(out[:], b)
	return out
}

// X25519PublicFromBytes copies b into a fixed key array.
func X25519PublicFromBytes(b []byte) (X25519Public, bool) {
	var out X25519Public
	if len(b) != 32 {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

// MustEd25519Public copies b into a fixed key array, panicking on bad length.
func MustEd25519Public(b []byte) Ed25519Public {
	if len(b) != 32 {
		panic(fmt.Errorf("Ed25519 public: want 32 bytes, got %d", len(b)))
	}
	var out Ed25519Public
	copy(out[:], b)
	return out
}

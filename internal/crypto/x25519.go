package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/securemem"
)

// GenerateX25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateX25519() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		err = failure.Wrap(failure.KeyGeneration, "x25519 private", err)
		return
	}
	clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		err = failure.Wrap(failure.KeyGeneration, "x25519 public", err)
		return
	}
	copy(pub[:], pb)
	return
}

// DH computes X25519 Diffie-Hellman. Low-order peer points are rejected.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, failure.Wrap(failure.PeerPubKey, "x25519", err)
	}
	copy(out[:], secret)
	securemem.Wipe(secret)
	return out, nil
}

// DHHandle computes X25519 with the private key read out of guarded memory
// for just the duration of the operation.
func DHHandle(priv *securemem.Handle, pub domain.X25519Public) ([32]byte, error) {
	var sk domain.X25519Private
	if err := priv.Read(sk[:]); err != nil {
		return [32]byte{}, err
	}
	defer securemem.Wipe(sk[:])
	return DH(sk, pub)
}

func clamp(k *domain.X25519Private) {
	kb := k[:]
	kb[0] &= 248
	kb[31] &= 127
	kb[31] |= 64
}

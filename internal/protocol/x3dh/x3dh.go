package x3dh

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"ecliptix/internal/crypto"
	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/securemem"
)

// rootLabel binds the HKDF expansion to this exchange; chain and nonce
// derivations use disjoint labels on the same root.
const rootLabel = "ecliptix-x3dh-root"

// VerifySignedPreKey checks the Ed25519 signature over the bundle's signed
// pre-key. It must pass before any shared-secret derivation; the bundle has
// already been shape-validated.
func VerifySignedPreKey(b *domain.PublicBundle) error {
	signing := domain.MustEd25519Public(b.IdentitySigningKey)
	if !crypto.VerifyEd25519(signing, b.SignedPreKey, b.SignedPreKeySignature) {
		return failure.New(failure.Handshake, "signed pre-key signature")
	}
	return nil
}

// ChooseOneTimePreKey picks the lowest-id pre-key the peer advertised.
// Returns nils when the bundle carries none; the exchange then runs without
// the optional fourth DH.
func ChooseOneTimePreKey(b *domain.PublicBundle) (*domain.OneTimePreKeyID, *domain.X25519Public) {
	if len(b.OneTimePreKeys) == 0 {
		return nil, nil
	}
	best := b.OneTimePreKeys[0]
	for _, otp := range b.OneTimePreKeys[1:] {
		if otp.ID < best.ID {
			best = otp
		}
	}
	pub := domain.MustX25519Public(best.Pub)
	id := best.ID
	return &id, &pub
}

// InitiatorSecret derives the shared root key on the initiator side:
//
//	dh1 = DH(initiator identity,         responder ephemeral)
//	dh2 = DH(initiator ephemeral,        responder identity)
//	dh3 = DH(initiator ephemeral,        responder ephemeral)
//	dh4 = DH(initiator one-time pre-key, responder ephemeral)   if consumed
//
// oneTimePriv is the pool entry the responder echoed back, nil when the
// exchange ran without one.
func InitiatorSecret(
	identityPriv, ephemeralPriv, oneTimePriv *securemem.Handle,
	peerIdentity, peerEphemeral domain.X25519Public,
) (*securemem.Handle, error) {
	dh1, err := crypto.DHHandle(identityPriv, peerEphemeral)
	if err != nil {
		return nil, failure.Wrap(failure.Handshake, "dh1", err)
	}
	dh2, err := crypto.DHHandle(ephemeralPriv, peerIdentity)
	if err != nil {
		securemem.Wipe(dh1[:])
		return nil, failure.Wrap(failure.Handshake, "dh2", err)
	}
	dh3, err := crypto.DHHandle(ephemeralPriv, peerEphemeral)
	if err != nil {
		securemem.Wipe(dh1[:])
		securemem.Wipe(dh2[:])
		return nil, failure.Wrap(failure.Handshake, "dh3", err)
	}

	concat := make([]byte, 0, 32*4)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)
	securemem.Wipe(dh1[:])
	securemem.Wipe(dh2[:])
	securemem.Wipe(dh3[:])

	if oneTimePriv != nil {
		dh4, err := crypto.DHHandle(oneTimePriv, peerEphemeral)
		if err != nil {
			securemem.Wipe(concat)
			return nil, failure.Wrap(failure.Handshake, "dh4", err)
		}
		concat = append(concat, dh4[:]...)
		securemem.Wipe(dh4[:])
	}
	return expandRoot(concat)
}

// ResponderSecret derives the same root on the responder side. peerOneTime
// is the initiator-advertised pre-key the responder chose, nil when the
// initiator advertised none.
func ResponderSecret(
	identityPriv, ephemeralPriv *securemem.Handle,
	peerIdentity, peerEphemeral domain.X25519Public,
	peerOneTime *domain.X25519Public,
) (*securemem.Handle, error) {
	dh1, err := crypto.DHHandle(ephemeralPriv, peerIdentity)
	if err != nil {
		return nil, failure.Wrap(failure.Handshake, "dh1", err)
	}
	dh2, err := crypto.DHHandle(identityPriv, peerEphemeral)
	if err != nil {
		securemem.Wipe(dh1[:])
		return nil, failure.Wrap(failure.Handshake, "dh2", err)
	}
	dh3, err := crypto.DHHandle(ephemeralPriv, peerEphemeral)
	if err != nil {
		securemem.Wipe(dh1[:])
		securemem.Wipe(dh2[:])
		return nil, failure.Wrap(failure.Handshake, "dh3", err)
	}

	concat := make([]byte, 0, 32*4)
	concat = append(concat, dh1[:]...)
	concat = append(concat, dh2[:]...)
	concat = append(concat, dh3[:]...)
	securemem.Wipe(dh1[:])
	securemem.Wipe(dh2[:])
	securemem.Wipe(dh3[:])

	if peerOneTime != nil {
		dh4, err := crypto.DHHandle(ephemeralPriv, *peerOneTime)
		if err != nil {
			securemem.Wipe(concat)
			return nil, failure.Wrap(failure.Handshake, "dh4", err)
		}
		concat = append(concat, dh4[:]...)
		securemem.Wipe(dh4[:])
	}
	return expandRoot(concat)
}

// expandRoot runs HKDF-SHA256 over the DH concatenation and moves the
// 32-byte root straight into guarded memory, wiping the input.
func expandRoot(concat []byte) (*securemem.Handle, error) {
	defer securemem.Wipe(concat)

	root := make([]byte, 32)
	r := hkdf.New(sha256.New, concat, nil, []byte(rootLabel))
	if _, err := io.ReadFull(r, root); err != nil {
		securemem.Wipe(root)
		return nil, failure.Wrap(failure.KeyDerivation, "x3dh root", err)
	}
	return securemem.FromBytes(root)
}

package ratchet

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"ecliptix/internal/failure"
	"ecliptix/internal/securemem"
)

// HKDF labels. Every derivation off the shared root uses its own label so
// the outputs stay independent; the initiator's send side pairs with the
// responder's receive side and vice versa.
const (
	chainInitiatorLabel = "ecliptix-chain-initiator"
	chainResponderLabel = "ecliptix-chain-responder"
	nonceInitiatorLabel = "ecliptix-nonce-initiator"
	nonceResponderLabel = "ecliptix-nonce-responder"
	ratchetRootLabel    = "ecliptix-ratchet-root"
	chainStepLabel      = "ecliptix-chain-step"
)

const (
	keySize    = 32
	prefixSize = 4
)

// expandLabel reads n bytes of HKDF-SHA256 output for one label off ikm.
func expandLabel(ikm []byte, label string, n int) ([]byte, error) {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, ikm, nil, []byte(label))
	if _, err := io.ReadFull(r, out); err != nil {
		securemem.Wipe(out)
		return nil, failure.Wrap(failure.KeyDerivation, label, err)
	}
	return out, nil
}

// deriveRatchetStep advances the root with fresh DH output, yielding the
// next root and the first chain key of the new epoch.
func deriveRatchetStep(root, dh []byte) (newRoot, chainKey []byte, err error) {
	r := hkdf.New(sha256.New, dh, root, []byte(ratchetRootLabel))
	newRoot = make([]byte, keySize)
	chainKey = make([]byte, keySize)
	if _, err = io.ReadFull(r, newRoot); err == nil {
		_, err = io.ReadFull(r, chainKey)
	}
	if err != nil {
		securemem.Wipe(newRoot)
		securemem.Wipe(chainKey)
		return nil, nil, failure.Wrap(failure.KeyDerivation, "ratchet step", err)
	}
	return newRoot, chainKey, nil
}

// deriveChainStep advances a symmetric chain one position, yielding the next
// chain key and the message key for the current position.
func deriveChainStep(chainKey []byte) (next, messageKey []byte, err error) {
	r := hkdf.New(sha256.New, chainKey, nil, []byte(chainStepLabel))
	next = make([]byte, keySize)
	messageKey = make([]byte, keySize)
	if _, err = io.ReadFull(r, next); err == nil {
		_, err = io.ReadFull(r, messageKey)
	}
	if err != nil {
		securemem.Wipe(next)
		securemem.Wipe(messageKey)
		return nil, nil, failure.Wrap(failure.KeyDerivation, "chain step", err)
	}
	return next, messageKey, nil
}

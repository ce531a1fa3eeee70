package domain

import (
	"github.com/fxamacker/cbor/v2"

	"ecliptix/internal/failure"
)

// OneTimePreKeyPublic is the public half of a one-time pre-key, advertised
// inside a bundle.
type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID `cbor:"id"`
	Pub []byte          `cbor:"pub"`
}

// PublicBundle carries one endpoint's public key material inside a handshake
// message. The initiator advertises its one-time pre-keys; the responder
// echoes the id of the one it consumed in RetrievedOneTimePreKeyID.
type PublicBundle struct {
	IdentityAgreementKey     []byte                `cbor:"identity_agreement_key"`
	IdentitySigningKey       []byte                `cbor:"identity_signing_key"`
	SignedPreKeyID           SignedPreKeyID        `cbor:"signed_pre_key_id"`
	SignedPreKey             []byte                `cbor:"signed_pre_key"`
	SignedPreKeySignature    []byte                `cbor:"signed_pre_key_signature"`
	EphemeralKey             []byte                `cbor:"ephemeral_key"`
	OneTimePreKeys           []OneTimePreKeyPublic `cbor:"one_time_pre_keys,omitempty"`
	RetrievedOneTimePreKeyID *OneTimePreKeyID      `cbor:"retrieved_one_time_pre_key_id,omitempty"`
}

// Validate checks field shapes before any key is used. Malformed material is
// a peer-key failure so callers can distinguish it from undecodable CBOR.
func (b *PublicBundle) Validate() error {
	if len(b.IdentityAgreementKey) != 32 {
		return failure.Newf(failure.PeerPubKey, "identity agreement key length %d", len(b.IdentityAgreementKey))
	}
	if len(b.IdentitySigningKey) != 32 {
		return failure.Newf(failure.PeerPubKey, "identity signing key length %d", len(b.IdentitySigningKey))
	}
	if len(b.SignedPreKey) != 32 {
		return failure.Newf(failure.PeerPubKey, "signed pre-key length %d", len(b.SignedPreKey))
	}
	if len(b.SignedPreKeySignature) != 64 {
		return failure.Newf(failure.PeerPubKey, "signed pre-key signature length %d", len(b.SignedPreKeySignature))
	}
	if len(b.EphemeralKey) != 32 {
		return failure.Newf(failure.PeerPubKey, "ephemeral key length %d", len(b.EphemeralKey))
	}
	if MustX25519Public(b.IdentityAgreementKey).IsZero() {
		return failure.New(failure.PeerPubKey, "zero identity agreement key")
	}
	if MustX25519Public(b.EphemeralKey).IsZero() {
		return failure.New(failure.PeerPubKey, "zero ephemeral key")
	}
	for _, otp := range b.OneTimePreKeys {
		if len(otp.Pub) != 32 {
			return failure.Newf(failure.PeerPubKey, "one-time pre-key %d length %d", otp.ID, len(otp.Pub))
		}
	}
	return nil
}

// HandshakeMessage is the wire form of one key exchange step. Payload holds
// the CBOR-encoded PublicBundle of the sender; RatchetKey is the sender's
// initial Double Ratchet public key.
type HandshakeMessage struct {
	Exchange   ExchangeType   `cbor:"exchange"`
	State      HandshakeState `cbor:"state"`
	Payload    []byte         `cbor:"payload"`
	RatchetKey []byte         `cbor:"ratchet_key"`
}

// NewHandshakeMessage encodes bundle into a message for the given step.
func NewHandshakeMessage(ex ExchangeType, state HandshakeState, bundle *PublicBundle, ratchetKey X25519Public) (HandshakeMessage, error) {
	payload, err := cbor.Marshal(bundle)
	if err != nil {
		return HandshakeMessage{}, failure.Wrap(failure.Decode, "encode bundle", err)
	}
	return HandshakeMessage{
		Exchange:   ex,
		State:      state,
		Payload:    payload,
		RatchetKey: ratchetKey.Slice(),
	}, nil
}

// Bundle decodes and validates the embedded public bundle.
func (m *HandshakeMessage) Bundle() (*PublicBundle, error) {
	if len(m.Payload) == 0 {
		return nil, failure.New(failure.Decode, "empty handshake payload")
	}
	var b PublicBundle
	if err := cbor.Unmarshal(m.Payload, &b); err != nil {
		return nil, failure.Wrap(failure.Decode, "decode bundle", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks the message frame itself; the payload is checked by Bundle.
func (m *HandshakeMessage) Validate() error {
	if m.Exchange == ExchangeUnknown {
		return failure.New(failure.InvalidInput, "unknown exchange type")
	}
	if m.State != StateInit && m.State != StatePending {
		return failure.Newf(failure.InvalidInput, "handshake state %s not valid on the wire", m.State)
	}
	if len(m.RatchetKey) != 32 {
		return failure.Newf(failure.PeerPubKey, "ratchet key length %d", len(m.RatchetKey))
	}
	if MustX25519Public(m.RatchetKey).IsZero() {
		return failure.New(failure.PeerPubKey, "zero ratchet key")
	}
	return nil
}

// CipherPayload is the wire form of one encrypted message. Cipher holds the
// ciphertext with the 16-byte tag appended. DHPublicKey is present only on
// the first message after the sender rotated its ratchet key.
type CipherPayload struct {
	RequestID    uint32 `cbor:"request_id"`
	Nonce        []byte `cbor:"nonce"`
	RatchetIndex uint64 `cbor:"ratchet_index"`
	Cipher       []byte `cbor:"cipher"`
	CreatedAt    int64  `cbor:"created_at"`
	DHPublicKey  []byte `cbor:"dh_public_key,omitempty"`
}

// Validate checks frame shapes before any cryptographic work.
func (p *CipherPayload) Validate() error {
	if p.RequestID == 0 {
		return failure.New(failure.InvalidInput, "zero request id")
	}
	if len(p.Nonce) != 12 {
		return failure.Newf(failure.InvalidInput, "nonce length %d", len(p.Nonce))
	}
	if len(p.Cipher) < 16 {
		return failure.Newf(failure.BufferTooSmall, "cipher length %d below tag size", len(p.Cipher))
	}
	if p.DHPublicKey != nil {
		if len(p.DHPublicKey) != 32 {
			return failure.Newf(failure.PeerPubKey, "dh public key length %d", len(p.DHPublicKey))
		}
		if MustX25519Public(p.DHPublicKey).IsZero() {
			return failure.New(failure.PeerPubKey, "zero dh public key")
		}
	}
	return nil
}

// RelayEnvelope is what the relay queues per recipient. Exactly one of
// Handshake and Cipher is set.
type RelayEnvelope struct {
	ID        string            `cbor:"id"`
	From      Username          `cbor:"from"`
	To        Username          `cbor:"to"`
	ConnectID ConnectID         `cbor:"connect_id"`
	Handshake *HandshakeMessage `cbor:"handshake,omitempty"`
	Cipher    *CipherPayload    `cbor:"cipher,omitempty"`
	PostedAt  int64             `cbor:"posted_at"`
}

// Validate rejects envelopes that carry neither or both payload kinds.
func (e *RelayEnvelope) Validate() error {
	if e.To == "" {
		return failure.New(failure.InvalidInput, "empty recipient")
	}
	if (e.Handshake == nil) == (e.Cipher == nil) {
		return failure.New(failure.InvalidInput, "envelope must carry exactly one of handshake or cipher")
	}
	return nil
}

// DecryptedMessage is what the channel service hands back for each inbound
// cipher envelope.
type DecryptedMessage struct {
	From      Username
	ConnectID ConnectID
	Plaintext []byte
	CreatedAt int64
}

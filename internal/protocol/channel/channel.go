package channel

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"ecliptix/internal/crypto"
	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/identity"
	"ecliptix/internal/protocol/ratchet"
	"ecliptix/internal/protocol/x3dh"
	"ecliptix/internal/securemem"
)

// Channel is the secure channel for one connection: the key exchange state
// machine plus, once complete, the ratchet session that seals and opens
// message payloads.
//
// A Channel is NOT safe for concurrent use; the System serialises access
// per connection.
type Channel struct {
	connect     domain.ConnectID
	exchange    domain.ExchangeType
	keys        *identity.Keys
	rotateEvery uint64

	state   domain.HandshakeState
	role    ratchet.Role
	session *ratchet.Session

	// Initiator-side carry between BeginKeyExchange and FinalizeKeyExchange.
	// ephPriv is a clone so a later handshake on another connection cannot
	// invalidate it by replacing the shared ephemeral slot.
	ephPriv *securemem.Handle
	dhPriv  *securemem.Handle
	dhPub   domain.X25519Public

	localAD    []byte
	peerAD     []byte
	peerBundle *domain.PublicBundle

	destroyed bool
}

// New returns a channel awaiting its key exchange.
func New(connect domain.ConnectID, keys *identity.Keys, exchange domain.ExchangeType, rotateEvery uint64) *Channel {
	return &Channel{
		connect:     connect,
		exchange:    exchange,
		keys:        keys,
		rotateEvery: rotateEvery,
		state:       domain.StateInit,
		localAD:     keys.AgreementPublic().Slice(),
	}
}

// Connect returns the connection this channel serves.
func (c *Channel) Connect() domain.ConnectID { return c.connect }

// State reports where the key exchange stands.
func (c *Channel) State() domain.HandshakeState {
	if c.destroyed {
		return domain.StateInvalid
	}
	return c.state
}

// PeerBundle returns the peer's validated bundle, nil before the exchange
// completes.
func (c *Channel) PeerBundle() *domain.PublicBundle { return c.peerBundle }

// PeerFingerprint identifies the peer's agreement key, empty before the
// exchange completes.
func (c *Channel) PeerFingerprint() domain.Fingerprint {
	if c.peerBundle == nil {
		return ""
	}
	return crypto.Fingerprint(c.peerAD)
}

// BeginKeyExchange opens the handshake as initiator: a fresh handshake
// ephemeral, a fresh ratchet pair, and a bundle advertising the one-time
// pre-key pool.
func (c *Channel) BeginKeyExchange() (domain.HandshakeMessage, error) {
	if c.destroyed {
		return domain.HandshakeMessage{}, failure.New(failure.ObjectDisposed, "channel")
	}
	if c.state != domain.StateInit {
		return domain.HandshakeMessage{}, failure.Newf(failure.InvalidInput, "key exchange already %s", c.state)
	}

	if _, err := c.keys.GenerateEphemeralKeyPair(); err != nil {
		return domain.HandshakeMessage{}, err
	}
	ephShared, err := c.keys.EphemeralHandle()
	if err != nil {
		return domain.HandshakeMessage{}, err
	}
	eph, err := ephShared.Clone()
	if err != nil {
		return domain.HandshakeMessage{}, err
	}

	dhPriv, dhPub, err := crypto.GenerateX25519()
	if err != nil {
		eph.Dispose()
		return domain.HandshakeMessage{}, err
	}
	dhHandle, err := securemem.FromBytes(dhPriv[:])
	if err != nil {
		eph.Dispose()
		return domain.HandshakeMessage{}, err
	}

	bundle, err := c.keys.PublicBundle(true, nil)
	if err != nil {
		eph.Dispose()
		dhHandle.Dispose()
		return domain.HandshakeMessage{}, err
	}
	msg, err := domain.NewHandshakeMessage(c.exchange, domain.StateInit, bundle, dhPub)
	if err != nil {
		eph.Dispose()
		dhHandle.Dispose()
		return domain.HandshakeMessage{}, err
	}

	c.ephPriv = eph
	c.dhPriv = dhHandle
	c.dhPub = dhPub
	c.role = ratchet.Initiator
	c.state = domain.StatePending
	return msg, nil
}

// RespondKeyExchange consumes an initiator's opening message and completes
// the responder side in one step: verify the bundle, pick a one-time
// pre-key if any were advertised, derive the shared root and seed the
// session. The returned message carries this side's bundle and ratchet key.
func (c *Channel) RespondKeyExchange(msg *domain.HandshakeMessage) (domain.HandshakeMessage, error) {
	if c.destroyed {
		return domain.HandshakeMessage{}, failure.New(failure.ObjectDisposed, "channel")
	}
	if c.state != domain.StateInit {
		return domain.HandshakeMessage{}, failure.Newf(failure.InvalidInput, "key exchange already %s", c.state)
	}
	if err := msg.Validate(); err != nil {
		return domain.HandshakeMessage{}, err
	}
	if msg.State != domain.StateInit {
		return domain.HandshakeMessage{}, failure.Newf(failure.InvalidInput, "expected init message, got %s", msg.State)
	}

	bundle, err := msg.Bundle()
	if err != nil {
		return domain.HandshakeMessage{}, err
	}
	if err := x3dh.VerifySignedPreKey(bundle); err != nil {
		return domain.HandshakeMessage{}, err
	}
	peerDH, ok := domain.X25519PublicFromBytes(msg.RatchetKey)
	if !ok {
		return domain.HandshakeMessage{}, failure.New(failure.PeerPubKey, "ratchet key")
	}

	opkID, opkPub := x3dh.ChooseOneTimePreKey(bundle)

	if _, err := c.keys.GenerateEphemeralKeyPair(); err != nil {
		return domain.HandshakeMessage{}, err
	}
	eph, err := c.keys.EphemeralHandle()
	if err != nil {
		return domain.HandshakeMessage{}, err
	}

	root, err := x3dh.ResponderSecret(
		c.keys.AgreementHandle(), eph,
		domain.MustX25519Public(bundle.IdentityAgreementKey),
		domain.MustX25519Public(bundle.EphemeralKey),
		opkPub,
	)
	if err != nil {
		return domain.HandshakeMessage{}, err
	}

	dhPriv, dhPub, err := crypto.GenerateX25519()
	if err != nil {
		root.Dispose()
		return domain.HandshakeMessage{}, err
	}
	dhHandle, err := securemem.FromBytes(dhPriv[:])
	if err != nil {
		root.Dispose()
		return domain.HandshakeMessage{}, err
	}

	session, err := ratchet.NewSession(ratchet.Params{
		Connect:     c.connect,
		Role:        ratchet.Responder,
		Root:        root,
		DHPriv:      dhHandle,
		DHPub:       dhPub,
		PeerDH:      peerDH,
		RotateEvery: c.rotateEvery,
	})
	if err != nil {
		root.Dispose()
		dhHandle.Dispose()
		return domain.HandshakeMessage{}, err
	}

	replyBundle, err := c.keys.PublicBundle(false, opkID)
	if err != nil {
		session.Destroy()
		return domain.HandshakeMessage{}, err
	}
	reply, err := domain.NewHandshakeMessage(c.exchange, domain.StatePending, replyBundle, dhPub)
	if err != nil {
		session.Destroy()
		return domain.HandshakeMessage{}, err
	}

	c.session = session
	c.role = ratchet.Responder
	c.state = domain.StateComplete
	c.adoptPeer(bundle)
	return reply, nil
}

// FinalizeKeyExchange consumes the responder's reply and completes the
// initiator side. A failure discards the half-built exchange so the caller
// can begin again.
func (c *Channel) FinalizeKeyExchange(msg *domain.HandshakeMessage) error {
	if c.destroyed {
		return failure.New(failure.ObjectDisposed, "channel")
	}
	if c.state != domain.StatePending || c.role != ratchet.Initiator {
		return failure.Newf(failure.StateMissing, "no key exchange awaiting completion (state %s)", c.state)
	}
	err := c.finalize(msg)
	if err != nil {
		c.resetPending()
	}
	return err
}

func (c *Channel) finalize(msg *domain.HandshakeMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.State != domain.StatePending {
		return failure.Newf(failure.InvalidInput, "expected pending message, got %s", msg.State)
	}
	bundle, err := msg.Bundle()
	if err != nil {
		return err
	}
	if err := x3dh.VerifySignedPreKey(bundle); err != nil {
		return err
	}
	peerDH, ok := domain.X25519PublicFromBytes(msg.RatchetKey)
	if !ok {
		return failure.New(failure.PeerPubKey, "ratchet key")
	}

	var oneTime *securemem.Handle
	if bundle.RetrievedOneTimePreKeyID != nil {
		if oneTime, err = c.keys.ConsumeOneTimePreKey(*bundle.RetrievedOneTimePreKeyID); err != nil {
			return err
		}
		defer oneTime.Dispose()
	}

	root, err := x3dh.InitiatorSecret(
		c.keys.AgreementHandle(), c.ephPriv, oneTime,
		domain.MustX25519Public(bundle.IdentityAgreementKey),
		domain.MustX25519Public(bundle.EphemeralKey),
	)
	if err != nil {
		return err
	}

	session, err := ratchet.NewSession(ratchet.Params{
		Connect:     c.connect,
		Role:        ratchet.Initiator,
		Root:        root,
		DHPriv:      c.dhPriv,
		DHPub:       c.dhPub,
		PeerDH:      peerDH,
		RotateEvery: c.rotateEvery,
	})
	if err != nil {
		root.Dispose()
		return err
	}

	c.session = session
	c.dhPriv = nil // owned by the session now
	c.ephPriv.Dispose()
	c.ephPriv = nil
	c.state = domain.StateComplete
	c.adoptPeer(bundle)
	return nil
}

// ProduceOutboundMessage seals plaintext into a cipher payload, carrying
// the new ratchet key when one was just rotated in.
func (c *Channel) ProduceOutboundMessage(plaintext []byte) (*domain.CipherPayload, error) {
	if c.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "channel")
	}
	if c.state != domain.StateComplete {
		return nil, failure.Newf(failure.StateMissing, "no established session (state %s)", c.state)
	}

	mk, announce, err := c.session.PrepareNextSendMessage()
	if err != nil {
		return nil, err
	}
	defer mk.Destroy()

	nonce, err := c.session.GenerateNextNonce(mk.Index())
	if err != nil {
		return nil, err
	}

	ad := c.associatedData(true)
	defer securemem.Wipe(ad)
	cipher, err := crypto.Seal(mk.Key(), nonce[:], plaintext, ad)
	if err != nil {
		return nil, err
	}

	requestID, err := randomRequestID()
	if err != nil {
		return nil, err
	}
	payload := &domain.CipherPayload{
		RequestID:    requestID,
		Nonce:        nonce[:],
		RatchetIndex: mk.Index(),
		Cipher:       cipher,
		CreatedAt:    time.Now().Unix(),
	}
	if announce != nil {
		payload.DHPublicKey = announce.Slice()
	}
	return payload, nil
}

// ProcessInboundMessage opens a cipher payload and returns the plaintext.
// A payload carrying a new peer ratchet key advances the receiving ratchet
// before the key for its index is derived.
func (c *Channel) ProcessInboundMessage(p *domain.CipherPayload) ([]byte, error) {
	if c.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "channel")
	}
	if c.state != domain.StateComplete {
		return nil, failure.Newf(failure.StateMissing, "no established session (state %s)", c.state)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var newPeer *domain.X25519Public
	if len(p.DHPublicKey) > 0 {
		pub, ok := domain.X25519PublicFromBytes(p.DHPublicKey)
		if !ok {
			return nil, failure.New(failure.PeerPubKey, "announced ratchet key")
		}
		newPeer = &pub
	}

	mk, err := c.session.ProcessReceivedMessage(p.RatchetIndex, newPeer)
	if err != nil {
		return nil, err
	}
	defer mk.Destroy()

	ad := c.associatedData(false)
	defer securemem.Wipe(ad)
	return crypto.Open(mk.Key(), p.Nonce, p.Cipher, ad)
}

// Destroy wipes the session and any half-built handshake state. Idempotent.
// The shared identity keys are not touched.
func (c *Channel) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	c.resetPending()
}

// associatedData binds each envelope to both identities, sender first. Both
// directions of a pair therefore authenticate against the same two keys.
func (c *Channel) associatedData(outbound bool) []byte {
	ad := make([]byte, 0, len(c.localAD)+len(c.peerAD))
	if outbound {
		ad = append(ad, c.localAD...)
		return append(ad, c.peerAD...)
	}
	ad = append(ad, c.peerAD...)
	return append(ad, c.localAD...)
}

func (c *Channel) adoptPeer(bundle *domain.PublicBundle) {
	c.peerBundle = bundle
	c.peerAD = append([]byte(nil), bundle.IdentityAgreementKey...)
}

// resetPending drops initiator-side carry so a failed exchange can restart.
func (c *Channel) resetPending() {
	if c.ephPriv != nil {
		c.ephPriv.Dispose()
		c.ephPriv = nil
	}
	if c.dhPriv != nil {
		c.dhPriv.Dispose()
		c.dhPriv = nil
	}
	if !c.destroyed {
		c.state = domain.StateInit
		c.role = 0
	}
}

func randomRequestID() (uint32, error) {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, failure.Wrap(failure.KeyGeneration, "request id", err)
		}
		if id := binary.BigEndian.Uint32(b[:]); id != 0 {
			return id, nil
		}
	}
}

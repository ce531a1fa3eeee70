package ratchet

import (
	"encoding/binary"
	"math"

	"ecliptix/internal/crypto"
	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/securemem"
)

const (
	// MaxSkippedKeys caps the out-of-order key cache. On overflow the
	// lowest cached index is evicted.
	MaxSkippedKeys = 1000
	// MaxSkipAhead bounds how far a single inbound message may run the
	// receiving chain forward.
	MaxSkipAhead = 1000
	// DefaultRotateEvery is the sending-side ratchet rotation interval.
	DefaultRotateEvery = 100
	// NonceSize is the AEAD nonce length: a 4-byte per-direction prefix
	// followed by the big-endian ratchet index.
	NonceSize = 12
)

// Role says which handshake side this session belongs to. It fixes which
// HKDF labels seed which chain so the initiator's send side pairs with the
// responder's receive side.
type Role uint8

const (
	// Initiator opened the key exchange.
	Initiator Role = iota + 1
	// Responder answered it.
	Responder
)

// String names the role for logs.
func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

// Params carries everything NewSession needs. Ownership of the handles
// moves to the session.
type Params struct {
	Connect domain.ConnectID
	Role    Role
	// Root is the 32-byte shared secret from the key exchange.
	Root *securemem.Handle
	// DHPriv/DHPub is the local ratchet pair announced during the handshake.
	DHPriv *securemem.Handle
	DHPub  domain.X25519Public
	// PeerDH is the ratchet key the peer announced.
	PeerDH domain.X25519Public
	// RotateEvery overrides DefaultRotateEvery when positive.
	RotateEvery uint64
}

// Session is one direction-pair of the Double Ratchet for a single
// connection. Indices are session-lifetime monotonic per direction and
// never reset at a ratchet step; the first envelope announcing a new
// ratchet key marks the epoch boundary.
//
// A Session is NOT safe for concurrent use. Callers must serialise access
// per connection.
type Session struct {
	connect domain.ConnectID
	role    Role

	root      *securemem.Handle
	sendChain *securemem.Handle
	recvChain *securemem.Handle

	dhPriv *securemem.Handle
	dhPub  domain.X25519Public
	peerDH domain.X25519Public

	sendPrefix [prefixSize]byte
	recvPrefix [prefixSize]byte

	sendCount uint64
	recvCount uint64

	skipped *skippedKeys

	rotateEvery uint64
	// rootAdvanced latches after any ratchet step. The unilateral
	// sending-side rotation is only safe while both roots are untouched,
	// and only for the initiator; afterwards freshness rides the
	// receiving ratchet.
	rootAdvanced bool
	// announceDH marks that the next prepared send must carry dhPub.
	announceDH bool

	destroyed bool
}

// NewSession seeds both chains and nonce prefixes from the shared root and
// retains the root for later ratchet steps.
func NewSession(p Params) (*Session, error) {
	if p.Root == nil || p.DHPriv == nil {
		return nil, failure.New(failure.InvalidInput, "session needs root and ratchet key handles")
	}
	if p.Role != Initiator && p.Role != Responder {
		return nil, failure.New(failure.InvalidInput, "session role")
	}
	if p.Root.Length() != keySize {
		return nil, failure.Newf(failure.InvalidInput, "root length %d", p.Root.Length())
	}
	if p.PeerDH.IsZero() {
		return nil, failure.New(failure.PeerPubKey, "zero peer ratchet key")
	}

	s := &Session{
		connect:     p.Connect,
		role:        p.Role,
		root:        p.Root,
		dhPriv:      p.DHPriv,
		dhPub:       p.DHPub,
		peerDH:      p.PeerDH,
		skipped:     newSkippedKeys(MaxSkippedKeys),
		rotateEvery: p.RotateEvery,
	}
	if s.rotateEvery == 0 {
		s.rotateEvery = DefaultRotateEvery
	}

	sendChainLabel, recvChainLabel := chainInitiatorLabel, chainResponderLabel
	sendPrefixLabel, recvPrefixLabel := nonceInitiatorLabel, nonceResponderLabel
	if p.Role == Responder {
		sendChainLabel, recvChainLabel = recvChainLabel, sendChainLabel
		sendPrefixLabel, recvPrefixLabel = recvPrefixLabel, sendPrefixLabel
	}

	rb := make([]byte, keySize)
	if err := s.root.Read(rb); err != nil {
		return nil, err
	}
	defer securemem.Wipe(rb)

	sendCK, err := expandLabel(rb, sendChainLabel, keySize)
	if err != nil {
		return nil, err
	}
	if s.sendChain, err = securemem.FromBytes(sendCK); err != nil {
		return nil, err
	}
	recvCK, err := expandLabel(rb, recvChainLabel, keySize)
	if err != nil {
		s.Destroy()
		return nil, err
	}
	if s.recvChain, err = securemem.FromBytes(recvCK); err != nil {
		s.Destroy()
		return nil, err
	}

	sp, err := expandLabel(rb, sendPrefixLabel, prefixSize)
	if err != nil {
		s.Destroy()
		return nil, err
	}
	copy(s.sendPrefix[:], sp)
	rp, err := expandLabel(rb, recvPrefixLabel, prefixSize)
	if err != nil {
		s.Destroy()
		return nil, err
	}
	copy(s.recvPrefix[:], rp)
	return s, nil
}

// Connect returns the connection this session serves.
func (s *Session) Connect() domain.ConnectID { return s.connect }

// Role returns which handshake side this session is.
func (s *Session) Role() Role { return s.role }

// CurrentDHPublic returns the local ratchet public key.
func (s *Session) CurrentDHPublic() domain.X25519Public { return s.dhPub }

// PeerDHPublic returns the last ratchet key observed from the peer.
func (s *Session) PeerDHPublic() domain.X25519Public { return s.peerDH }

// SendCount returns the next sending index.
func (s *Session) SendCount() uint64 { return s.sendCount }

// ReceiveCount returns the next expected receiving index.
func (s *Session) ReceiveCount() uint64 { return s.recvCount }

// SkippedKeyCount reports how many out-of-order keys are cached.
func (s *Session) SkippedKeyCount() int { return s.skipped.len() }

// PrepareNextSendMessage derives the key for the next outbound index. The
// returned public key is non-nil exactly once after a rotation; the caller
// must place it on that envelope. The caller owns the MessageKey.
func (s *Session) PrepareNextSendMessage() (*MessageKey, *domain.X25519Public, error) {
	if s.destroyed {
		return nil, nil, failure.New(failure.ObjectDisposed, "ratchet session")
	}
	if s.sendCount == math.MaxUint64 {
		return nil, nil, failure.New(failure.DataTooLarge, "sending index space exhausted")
	}

	if s.role == Initiator && !s.rootAdvanced &&
		s.sendCount > 0 && s.sendCount%s.rotateEvery == 0 {
		if err := s.rotateSending(); err != nil {
			return nil, nil, err
		}
	}

	mk, err := s.stepChain(s.sendChain, s.sendCount)
	if err != nil {
		return nil, nil, err
	}
	s.sendCount++

	var announce *domain.X25519Public
	if s.announceDH {
		pub := s.dhPub
		announce = &pub
		s.announceDH = false
	}
	return mk, announce, nil
}

// GenerateNextNonce builds the send-direction nonce for a ratchet index:
// the 4-byte direction prefix followed by the big-endian index.
func (s *Session) GenerateNextNonce(index uint64) ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if s.destroyed {
		return nonce, failure.New(failure.ObjectDisposed, "ratchet session")
	}
	copy(nonce[:prefixSize], s.sendPrefix[:])
	binary.BigEndian.PutUint64(nonce[prefixSize:], index)
	return nonce, nil
}

// ReceiveNonce builds the receive-direction nonce for a ratchet index,
// mirroring what the peer sealed with.
func (s *Session) ReceiveNonce(index uint64) ([NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if s.destroyed {
		return nonce, failure.New(failure.ObjectDisposed, "ratchet session")
	}
	copy(nonce[:prefixSize], s.recvPrefix[:])
	binary.BigEndian.PutUint64(nonce[prefixSize:], index)
	return nonce, nil
}

// ProcessReceivedMessage resolves the key for an inbound index. A new peer
// ratchet key on the envelope first caches the remaining old-chain keys up
// to the boundary, then performs the receiving ratchet. Past indices are
// served from the cache exactly once. The caller owns the MessageKey.
func (s *Session) ProcessReceivedMessage(index uint64, newPeerKey *domain.X25519Public) (*MessageKey, error) {
	if s.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "ratchet session")
	}
	if index == math.MaxUint64 {
		return nil, failure.New(failure.DataTooLarge, "receiving index space exhausted")
	}

	if newPeerKey != nil && *newPeerKey != s.peerDH {
		if index > s.recvCount {
			if err := s.cacheAhead(index); err != nil {
				return nil, err
			}
		}
		if err := s.PerformReceivingRatchet(*newPeerKey); err != nil {
			return nil, err
		}
		mk, err := s.stepChain(s.recvChain, index)
		if err != nil {
			return nil, err
		}
		if index >= s.recvCount {
			s.recvCount = index + 1
		}
		return mk, nil
	}

	switch {
	case index < s.recvCount:
		mk, ok := s.skipped.take(index)
		if !ok {
			return nil, failure.Newf(failure.Decryption, "no key for index %d", index)
		}
		return mk, nil
	case index > s.recvCount:
		if err := s.cacheAhead(index); err != nil {
			return nil, err
		}
	}

	mk, err := s.stepChain(s.recvChain, index)
	if err != nil {
		return nil, err
	}
	s.recvCount = index + 1
	return mk, nil
}

// PerformReceivingRatchet runs the two-step ratchet for a newly announced
// peer key: first the receiving side advances against the announced key,
// then a fresh local pair advances the sending side. The new local key is
// carried on the next prepared send.
func (s *Session) PerformReceivingRatchet(newPeer domain.X25519Public) error {
	if s.destroyed {
		return failure.New(failure.ObjectDisposed, "ratchet session")
	}
	if newPeer.IsZero() {
		return failure.New(failure.PeerPubKey, "zero ratchet key")
	}

	// Step 1: receiving side.
	dh1, err := crypto.DHHandle(s.dhPriv, newPeer)
	if err != nil {
		return err
	}
	rb := make([]byte, keySize)
	if err := s.root.Read(rb); err != nil {
		securemem.Wipe(dh1[:])
		return err
	}
	rootAfterRecv, recvCK, err := deriveRatchetStep(rb, dh1[:])
	securemem.Wipe(rb)
	securemem.Wipe(dh1[:])
	if err != nil {
		return err
	}

	// Step 2: fresh local pair advances the sending side.
	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		securemem.Wipe(rootAfterRecv)
		securemem.Wipe(recvCK)
		return err
	}
	dh2, err := crypto.DH(newPriv, newPeer)
	if err != nil {
		securemem.Wipe(newPriv[:])
		securemem.Wipe(rootAfterRecv)
		securemem.Wipe(recvCK)
		return err
	}
	newRoot, sendCK, err := deriveRatchetStep(rootAfterRecv, dh2[:])
	securemem.Wipe(rootAfterRecv)
	securemem.Wipe(dh2[:])
	if err != nil {
		securemem.Wipe(newPriv[:])
		securemem.Wipe(recvCK)
		return err
	}

	newPrivHandle, err := securemem.FromBytes(newPriv[:])
	if err != nil {
		securemem.Wipe(newRoot)
		securemem.Wipe(recvCK)
		securemem.Wipe(sendCK)
		return err
	}

	if err := s.commitRatchet(newRoot, recvCK, sendCK); err != nil {
		newPrivHandle.Dispose()
		return err
	}
	s.dhPriv.Dispose()
	s.dhPriv = newPrivHandle
	s.dhPub = newPub
	s.peerDH = newPeer
	s.announceDH = true
	s.rootAdvanced = true
	return nil
}

// Destroy wipes the root, both chains, the ratchet private key and every
// cached message key. Safe to call more than once.
func (s *Session) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	for _, h := range []*securemem.Handle{s.root, s.sendChain, s.recvChain, s.dhPriv} {
		if h != nil {
			h.Dispose()
		}
	}
	if s.skipped != nil {
		s.skipped.destroy()
	}
}

// rotateSending is the unilateral interval rotation: a fresh local pair
// advances only the sending side. It must never run after the root has
// advanced, or the peer could not replay the step.
func (s *Session) rotateSending() error {
	newPriv, newPub, err := crypto.GenerateX25519()
	if err != nil {
		return err
	}
	dh, err := crypto.DH(newPriv, s.peerDH)
	if err != nil {
		securemem.Wipe(newPriv[:])
		return err
	}
	rb := make([]byte, keySize)
	if err := s.root.Read(rb); err != nil {
		securemem.Wipe(newPriv[:])
		securemem.Wipe(dh[:])
		return err
	}
	newRoot, sendCK, err := deriveRatchetStep(rb, dh[:])
	securemem.Wipe(rb)
	securemem.Wipe(dh[:])
	if err != nil {
		securemem.Wipe(newPriv[:])
		return err
	}

	newPrivHandle, err := securemem.FromBytes(newPriv[:])
	if err != nil {
		securemem.Wipe(newRoot)
		securemem.Wipe(sendCK)
		return err
	}
	if err := s.root.Write(newRoot); err != nil {
		securemem.Wipe(newRoot)
		securemem.Wipe(sendCK)
		newPrivHandle.Dispose()
		return err
	}
	securemem.Wipe(newRoot)
	if err := s.sendChain.Write(sendCK); err != nil {
		securemem.Wipe(sendCK)
		newPrivHandle.Dispose()
		return err
	}
	securemem.Wipe(sendCK)

	s.dhPriv.Dispose()
	s.dhPriv = newPrivHandle
	s.dhPub = newPub
	s.announceDH = true
	s.rootAdvanced = true
	return nil
}

// commitRatchet writes the post-ratchet root and chain keys, wiping the
// plaintext copies.
func (s *Session) commitRatchet(newRoot, recvCK, sendCK []byte) error {
	defer func() {
		securemem.Wipe(newRoot)
		securemem.Wipe(recvCK)
		securemem.Wipe(sendCK)
	}()
	if err := s.root.Write(newRoot); err != nil {
		return err
	}
	if err := s.recvChain.Write(recvCK); err != nil {
		return err
	}
	return s.sendChain.Write(sendCK)
}

// stepChain advances chain one position and wraps the message key.
func (s *Session) stepChain(chain *securemem.Handle, index uint64) (*MessageKey, error) {
	ck := make([]byte, keySize)
	if err := chain.Read(ck); err != nil {
		return nil, err
	}
	next, rawMK, err := deriveChainStep(ck)
	securemem.Wipe(ck)
	if err != nil {
		return nil, err
	}
	if err := chain.Write(next); err != nil {
		securemem.Wipe(next)
		securemem.Wipe(rawMK)
		return nil, err
	}
	securemem.Wipe(next)
	return newMessageKey(index, rawMK)
}

// cacheAhead derives and caches keys for [recvCount, index) on the current
// receiving chain.
func (s *Session) cacheAhead(index uint64) error {
	if index-s.recvCount > MaxSkipAhead {
		return failure.Newf(failure.DataTooLarge, "skip of %d messages exceeds limit %d", index-s.recvCount, MaxSkipAhead)
	}
	for s.recvCount < index {
		mk, err := s.stepChain(s.recvChain, s.recvCount)
		if err != nil {
			return err
		}
		s.skipped.put(mk)
		s.recvCount++
	}
	return nil
}

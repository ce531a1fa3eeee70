package ratchet

import (
	"github.com/fxamacker/cbor/v2"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/securemem"
)

// skippedEntry is one cached out-of-order key in serialised form.
type skippedEntry struct {
	Index uint64 `cbor:"index"`
	Key   []byte `cbor:"key"`
}

// sessionState is the CBOR layout of a snapshot. Every secret is carried
// as plaintext bytes, so snapshots must be sealed before they touch disk.
type sessionState struct {
	Connect      uint64         `cbor:"connect_id"`
	Role         uint8          `cbor:"role"`
	Root         []byte         `cbor:"root_key"`
	SendChain    []byte         `cbor:"send_chain_key"`
	RecvChain    []byte         `cbor:"recv_chain_key"`
	DHPriv       []byte         `cbor:"dh_private_key"`
	DHPub        []byte         `cbor:"dh_public_key"`
	PeerDH       []byte         `cbor:"peer_dh_public_key"`
	SendPrefix   []byte         `cbor:"send_nonce_prefix"`
	RecvPrefix   []byte         `cbor:"recv_nonce_prefix"`
	SendCount    uint64         `cbor:"send_count"`
	RecvCount    uint64         `cbor:"recv_count"`
	RotateEvery  uint64         `cbor:"rotate_every"`
	RootAdvanced bool           `cbor:"root_advanced"`
	AnnounceDH   bool           `cbor:"announce_dh"`
	Skipped      []skippedEntry `cbor:"skipped_keys,omitempty"`
}

func (st *sessionState) wipe() {
	securemem.Wipe(st.Root)
	securemem.Wipe(st.SendChain)
	securemem.Wipe(st.RecvChain)
	securemem.Wipe(st.DHPriv)
	for i := range st.Skipped {
		securemem.Wipe(st.Skipped[i].Key)
	}
}

// Snapshot serialises the full session, cached out-of-order keys included,
// so a later RestoreSession resumes mid-conversation. The blob holds raw
// key material and must be sealed before persisting.
func (s *Session) Snapshot() ([]byte, error) {
	if s.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "ratchet session")
	}

	st := sessionState{
		Connect:      uint64(s.connect),
		Role:         uint8(s.role),
		Root:         make([]byte, keySize),
		SendChain:    make([]byte, keySize),
		RecvChain:    make([]byte, keySize),
		DHPriv:       make([]byte, keySize),
		DHPub:        s.dhPub.Slice(),
		PeerDH:       s.peerDH.Slice(),
		SendPrefix:   append([]byte(nil), s.sendPrefix[:]...),
		RecvPrefix:   append([]byte(nil), s.recvPrefix[:]...),
		SendCount:    s.sendCount,
		RecvCount:    s.recvCount,
		RotateEvery:  s.rotateEvery,
		RootAdvanced: s.rootAdvanced,
		AnnounceDH:   s.announceDH,
	}
	defer st.wipe()

	if err := s.root.Read(st.Root); err != nil {
		return nil, err
	}
	if err := s.sendChain.Read(st.SendChain); err != nil {
		return nil, err
	}
	if err := s.recvChain.Read(st.RecvChain); err != nil {
		return nil, err
	}
	if err := s.dhPriv.Read(st.DHPriv); err != nil {
		return nil, err
	}

	for _, index := range s.skipped.indices() {
		mk, ok := s.skipped.peek(index)
		if !ok {
			continue
		}
		key := make([]byte, keySize)
		if err := mk.Key().Read(key); err != nil {
			return nil, err
		}
		st.Skipped = append(st.Skipped, skippedEntry{Index: index, Key: key})
	}

	blob, err := cbor.Marshal(&st)
	if err != nil {
		return nil, failure.Wrap(failure.Decode, "encode session state", err)
	}
	return blob, nil
}

// RestoreSession rebuilds a session from a Snapshot blob. The blob is
// wiped before returning, success or not.
func RestoreSession(blob []byte) (*Session, error) {
	defer securemem.Wipe(blob)

	var st sessionState
	if err := cbor.Unmarshal(blob, &st); err != nil {
		return nil, failure.Wrap(failure.Decode, "decode session state", err)
	}
	defer st.wipe()

	role := Role(st.Role)
	if role != Initiator && role != Responder {
		return nil, failure.Newf(failure.Decode, "session state role %d", st.Role)
	}
	for _, b := range [][]byte{st.Root, st.SendChain, st.RecvChain, st.DHPriv} {
		if len(b) != keySize {
			return nil, failure.New(failure.Decode, "session state key length")
		}
	}
	if len(st.SendPrefix) != prefixSize || len(st.RecvPrefix) != prefixSize {
		return nil, failure.New(failure.Decode, "session state nonce prefix length")
	}
	dhPub, ok := domain.X25519PublicFromBytes(st.DHPub)
	if !ok {
		return nil, failure.New(failure.Decode, "session state ratchet public key")
	}
	peerDH, ok := domain.X25519PublicFromBytes(st.PeerDH)
	if !ok {
		return nil, failure.New(failure.Decode, "session state peer ratchet key")
	}

	s := &Session{
		connect:      domain.ConnectID(st.Connect),
		role:         role,
		dhPub:        dhPub,
		peerDH:       peerDH,
		sendCount:    st.SendCount,
		recvCount:    st.RecvCount,
		rotateEvery:  st.RotateEvery,
		rootAdvanced: st.RootAdvanced,
		announceDH:   st.AnnounceDH,
		skipped:      newSkippedKeys(MaxSkippedKeys),
	}
	if s.rotateEvery == 0 {
		s.rotateEvery = DefaultRotateEvery
	}
	copy(s.sendPrefix[:], st.SendPrefix)
	copy(s.recvPrefix[:], st.RecvPrefix)

	var err error
	if s.root, err = securemem.FromBytes(st.Root); err != nil {
		return nil, err
	}
	if s.sendChain, err = securemem.FromBytes(st.SendChain); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.recvChain, err = securemem.FromBytes(st.RecvChain); err != nil {
		s.Destroy()
		return nil, err
	}
	if s.dhPriv, err = securemem.FromBytes(st.DHPriv); err != nil {
		s.Destroy()
		return nil, err
	}

	for i := range st.Skipped {
		if len(st.Skipped[i].Key) != keySize {
			s.Destroy()
			return nil, failure.New(failure.Decode, "session state skipped key length")
		}
		mk, err := newMessageKey(st.Skipped[i].Index, st.Skipped[i].Key)
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.skipped.put(mk)
	}
	return s, nil
}

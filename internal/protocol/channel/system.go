package channel

import (
	"sync"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/identity"
)

// System owns one Channel per connection and serialises all work on it.
// Handshake steps additionally share a single lock because they rotate the
// identity's handshake ephemeral, which is one slot shared by every
// connection.
type System struct {
	mu      sync.Mutex
	hsMu    sync.Mutex
	keys    *identity.Keys
	rotate  uint64
	entries map[domain.ConnectID]*entry
	closed  bool
}

type entry struct {
	mu sync.Mutex
	ch *Channel
}

// NewSystem returns an empty arena backed by the local identity keys.
// rotateEvery configures new sessions; zero means the default interval.
func NewSystem(keys *identity.Keys, rotateEvery uint64) *System {
	return &System{
		keys:    keys,
		rotate:  rotateEvery,
		entries: make(map[domain.ConnectID]*entry),
	}
}

// BeginKeyExchange opens a handshake as initiator for the connection. The
// new channel replaces any existing one only once the step succeeds.
func (s *System) BeginKeyExchange(connect domain.ConnectID, exchange domain.ExchangeType) (domain.HandshakeMessage, error) {
	s.hsMu.Lock()
	defer s.hsMu.Unlock()

	ch, err := s.build(connect, exchange)
	if err != nil {
		return domain.HandshakeMessage{}, err
	}
	msg, err := ch.BeginKeyExchange()
	if err != nil {
		ch.Destroy()
		return domain.HandshakeMessage{}, err
	}
	if err := s.install(connect, ch); err != nil {
		return domain.HandshakeMessage{}, err
	}
	return msg, nil
}

// RespondKeyExchange answers an initiator's opening message. The message is
// fully validated on a detached channel first, so a bad handshake cannot
// displace an established channel for the connection.
func (s *System) RespondKeyExchange(connect domain.ConnectID, msg *domain.HandshakeMessage) (domain.HandshakeMessage, error) {
	s.hsMu.Lock()
	defer s.hsMu.Unlock()

	ch, err := s.build(connect, msg.Exchange)
	if err != nil {
		return domain.HandshakeMessage{}, err
	}
	reply, err := ch.RespondKeyExchange(msg)
	if err != nil {
		ch.Destroy()
		return domain.HandshakeMessage{}, err
	}
	if err := s.install(connect, ch); err != nil {
		return domain.HandshakeMessage{}, err
	}
	return reply, nil
}

// FinalizeKeyExchange completes the initiator side for the connection.
func (s *System) FinalizeKeyExchange(connect domain.ConnectID, msg *domain.HandshakeMessage) error {
	s.hsMu.Lock()
	defer s.hsMu.Unlock()

	e, err := s.lookup(connect)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.FinalizeKeyExchange(msg)
}

// ProduceOutboundMessage seals plaintext for the connection.
func (s *System) ProduceOutboundMessage(connect domain.ConnectID, plaintext []byte) (*domain.CipherPayload, error) {
	e, err := s.lookup(connect)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.ProduceOutboundMessage(plaintext)
}

// ProcessInboundMessage opens a cipher payload for the connection.
func (s *System) ProcessInboundMessage(connect domain.ConnectID, p *domain.CipherPayload) ([]byte, error) {
	e, err := s.lookup(connect)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.ProcessInboundMessage(p)
}

// State reports the handshake state for the connection, StateInvalid when
// it has no channel.
func (s *System) State(connect domain.ConnectID) domain.HandshakeState {
	e, err := s.lookup(connect)
	if err != nil {
		return domain.StateInvalid
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.State()
}

// PeerFingerprint identifies the peer on the connection, empty before the
// exchange completes.
func (s *System) PeerFingerprint(connect domain.ConnectID) domain.Fingerprint {
	e, err := s.lookup(connect)
	if err != nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.PeerFingerprint()
}

// SnapshotChannel serialises the connection's completed channel. The blob
// embeds raw key material and must be sealed before persisting.
func (s *System) SnapshotChannel(connect domain.ConnectID) ([]byte, error) {
	e, err := s.lookup(connect)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.Snapshot()
}

// RestoreChannel installs a channel rebuilt from a Snapshot blob, replacing
// any existing channel for the connection. The blob is wiped.
func (s *System) RestoreChannel(connect domain.ConnectID, blob []byte) error {
	ch, err := Restore(s.keys, blob)
	if err != nil {
		return err
	}
	if ch.Connect() != connect {
		ch.Destroy()
		return failure.Newf(failure.InvalidInput, "state is for connection %s", ch.Connect())
	}
	return s.install(connect, ch)
}

// CloseChannel destroys the connection's channel, if any.
func (s *System) CloseChannel(connect domain.ConnectID) {
	s.mu.Lock()
	e, ok := s.entries[connect]
	delete(s.entries, connect)
	s.mu.Unlock()
	if ok {
		e.mu.Lock()
		e.ch.Destroy()
		e.mu.Unlock()
	}
}

// Close destroys every channel. The system is unusable afterwards.
func (s *System) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.ch.Destroy()
		e.mu.Unlock()
	}
}

// build returns a detached channel for a handshake attempt.
func (s *System) build(connect domain.ConnectID, exchange domain.ExchangeType) (*Channel, error) {
	if exchange == domain.ExchangeUnknown {
		return nil, failure.New(failure.InvalidInput, "unknown exchange type")
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, failure.New(failure.ObjectDisposed, "protocol system")
	}
	return New(connect, s.keys, exchange, s.rotate), nil
}

// install replaces the connection's channel with ch, destroying the one it
// displaces. ch is destroyed instead when the system is already closed.
func (s *System) install(connect domain.ConnectID, ch *Channel) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ch.Destroy()
		return failure.New(failure.ObjectDisposed, "protocol system")
	}
	old := s.entries[connect]
	s.entries[connect] = &entry{ch: ch}
	s.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		old.ch.Destroy()
		old.mu.Unlock()
	}
	return nil
}

func (s *System) lookup(connect domain.ConnectID) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, failure.New(failure.ObjectDisposed, "protocol system")
	}
	e, ok := s.entries[connect]
	if !ok {
		return nil, failure.Newf(failure.StateMissing, "no channel for connection %s", connect)
	}
	return e, nil
}

package channel

import (
	"github.com/fxamacker/cbor/v2"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/identity"
	"ecliptix/internal/protocol/ratchet"
	"ecliptix/internal/securemem"
)

// channelState is the CBOR layout of a channel snapshot: the peer's bundle
// plus the embedded ratchet session state.
type channelState struct {
	Connect    uint64 `cbor:"connect_id"`
	Exchange   uint8  `cbor:"exchange"`
	PeerBundle []byte `cbor:"peer_bundle"`
	Session    []byte `cbor:"session_state"`
}

// Snapshot serialises a completed channel so Restore can resume it after a
// restart. The blob embeds raw ratchet keys and must be sealed before it
// is persisted.
func (c *Channel) Snapshot() ([]byte, error) {
	if c.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "channel")
	}
	if c.state != domain.StateComplete {
		return nil, failure.Newf(failure.StateMissing, "no established session (state %s)", c.state)
	}

	bundleBytes, err := cbor.Marshal(c.peerBundle)
	if err != nil {
		return nil, failure.Wrap(failure.Decode, "encode peer bundle", err)
	}
	sessionBytes, err := c.session.Snapshot()
	if err != nil {
		return nil, err
	}
	defer securemem.Wipe(sessionBytes)

	blob, err := cbor.Marshal(&channelState{
		Connect:    uint64(c.connect),
		Exchange:   uint8(c.exchange),
		PeerBundle: bundleBytes,
		Session:    sessionBytes,
	})
	if err != nil {
		return nil, failure.Wrap(failure.Decode, "encode channel state", err)
	}
	return blob, nil
}

// Restore rebuilds a completed channel from a Snapshot blob. The blob is
// wiped before returning, success or not.
func Restore(keys *identity.Keys, blob []byte) (*Channel, error) {
	defer securemem.Wipe(blob)

	var st channelState
	if err := cbor.Unmarshal(blob, &st); err != nil {
		return nil, failure.Wrap(failure.Decode, "decode channel state", err)
	}
	defer securemem.Wipe(st.Session)

	var bundle domain.PublicBundle
	if err := cbor.Unmarshal(st.PeerBundle, &bundle); err != nil {
		return nil, failure.Wrap(failure.Decode, "decode peer bundle", err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	exchange := domain.ExchangeType(st.Exchange)
	if exchange == domain.ExchangeUnknown {
		return nil, failure.New(failure.Decode, "channel state exchange type")
	}

	session, err := ratchet.RestoreSession(st.Session)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		connect:  domain.ConnectID(st.Connect),
		exchange: exchange,
		keys:     keys,
		state:    domain.StateComplete,
		role:     session.Role(),
		session:  session,
		localAD:  keys.AgreementPublic().Slice(),
	}
	c.adoptPeer(&bundle)
	return c, nil
}

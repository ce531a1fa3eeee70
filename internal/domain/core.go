package domain

import "strconv"

// ConnectID identifies one logical connection between two endpoints. Every
// channel, session snapshot and relay envelope is keyed by it.
type ConnectID uint64

// String returns the decimal form of the connect id.
func (c ConnectID) String() string { return strconv.FormatUint(uint64(c), 10) }

// Username represents a relay-registered endpoint.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// SignedPreKeyID uniquely identifies a signed pre-key.
type SignedPreKeyID uint32

// OneTimePreKeyID uniquely identifies a one-time pre-key within a bundle.
type OneTimePreKeyID uint32

// ExchangeType tags which kind of key exchange a handshake message belongs to.
type ExchangeType uint8

const (
	// ExchangeUnknown is the zero value and never valid on the wire.
	ExchangeUnknown ExchangeType = iota
	// ExchangeDataCenterEphemeral is the standard device-to-data-center
	// connection exchange.
	ExchangeDataCenterEphemeral
)

// String names the exchange type for logs.
func (e ExchangeType) String() string {
	switch e {
	case ExchangeDataCenterEphemeral:
		return "data-center-ephemeral"
	default:
		return "unknown"
	}
}

// HandshakeState tracks a key exchange through its lifecycle. Transitions
// only ever move forward: Init, then Pending, then Complete.
type HandshakeState uint8

const (
	// StateInvalid is the zero value and never valid on the wire.
	StateInvalid HandshakeState = iota
	// StateInit marks the initiator's opening message.
	StateInit
	// StatePending marks the responder's reply; the responder session is
	// already complete when it sends this.
	StatePending
	// StateComplete marks an established session. It never appears on the
	// wire; both sides reach it locally.
	StateComplete
)

// String names the handshake state for logs.
func (s HandshakeState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePending:
		return "pending"
	case StateComplete:
		return "complete"
	default:
		return "invalid"
	}
}

package domain

import "context"

// IdentityStore persists long-term key material under a passphrase.
type IdentityStore interface {
	SaveKeyMaterial(passphrase string, m *KeyMaterial) error
	LoadKeyMaterial(passphrase string) (*KeyMaterial, error)
	HasKeyMaterial() bool
}

// StateStore persists encrypted session snapshots keyed by connect id.
type StateStore interface {
	SaveState(connect ConnectID, snapshot []byte) error
	LoadState(connect ConnectID) ([]byte, bool, error)
	DeleteState(connect ConnectID) error
	Close() error
}

// RelayClient moves envelopes through the development relay. Collect returns
// queued envelopes oldest first without removing them; Ack discards the
// oldest count after the caller has processed them.
type RelayClient interface {
	Post(ctx context.Context, env RelayEnvelope) error
	Collect(ctx context.Context, me Username, limit int) ([]RelayEnvelope, error)
	Ack(ctx context.Context, me Username, count int) error
}

// ChannelService drives handshakes and message flow for the local endpoint.
type ChannelService interface {
	// EstablishChannel runs the initiator side of the key exchange with peer,
	// polling the relay until the responder's reply arrives.
	EstablishChannel(ctx context.Context, connect ConnectID, peer Username) error
	// RestoreChannel rebuilds an established channel from its stored snapshot.
	RestoreChannel(ctx context.Context, connect ConnectID) error
	// Send encrypts plaintext on the channel and posts it to the relay.
	Send(ctx context.Context, connect ConnectID, plaintext []byte) error
	// Receive collects queued envelopes, answering handshakes and decrypting
	// cipher payloads.
	Receive(ctx context.Context, limit int) ([]DecryptedMessage, error)
	// Close snapshots and tears down every open channel.
	Close() error
}

package domain

import "ecliptix/internal/securemem"

// OneTimePreKeyPair is the full (private+public) one-time pre-key stored
// locally.
type OneTimePreKeyPair struct {
	ID      OneTimePreKeyID `cbor:"id"`
	Private []byte          `cbor:"priv"`
	Public  []byte          `cbor:"pub"`
}

// KeyMaterial is the serialisable form of an endpoint's long-term keys. It
// exists only on the way to or from the encrypted keystore; runtime code
// holds the private halves in guarded memory. Callers must Wipe it as soon
// as the transfer is done.
type KeyMaterial struct {
	AgreementPrivate      []byte              `cbor:"agreement_priv"`
	AgreementPublic       []byte              `cbor:"agreement_pub"`
	SigningPrivate        []byte              `cbor:"signing_priv"`
	SigningPublic         []byte              `cbor:"signing_pub"`
	SignedPreKeyID        SignedPreKeyID      `cbor:"signed_pre_key_id"`
	SignedPreKeyPrivate   []byte              `cbor:"signed_pre_key_priv"`
	SignedPreKeyPublic    []byte              `cbor:"signed_pre_key_pub"`
	SignedPreKeySignature []byte              `cbor:"signed_pre_key_sig"`
	OneTimePreKeys        []OneTimePreKeyPair `cbor:"one_time_pre_keys"`
}

// Wipe zeroes every private field in place.
func (m *KeyMaterial) Wipe() {
	securemem.Wipe(m.AgreementPrivate)
	securemem.Wipe(m.SigningPrivate)
	securemem.Wipe(m.SignedPreKeyPrivate)
	for i := range m.OneTimePreKeys {
		securemem.Wipe(m.OneTimePreKeys[i].Private)
	}
}

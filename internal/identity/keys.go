package identity

import (
	"crypto/rand"
	"encoding/binary"
	"sort"
	"sync"

	"ecliptix/internal/crypto"
	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/securemem"
)

// DefaultOneTimePreKeyCount is how many one-time pre-keys Generate creates
// when the caller does not say otherwise.
const DefaultOneTimePreKeyCount = 10

type oneTimePair struct {
	priv *securemem.Handle
	pub  domain.X25519Public
}

// Keys owns the local endpoint's key material: the long-term agreement and
// signing pairs, the signed pre-key, a single-use pool of one-time pre-keys
// and the current handshake ephemeral. Private halves live in guarded
// memory for their whole life. Safe for concurrent use.
type Keys struct {
	mu sync.Mutex

	agreementPriv *securemem.Handle
	agreementPub  domain.X25519Public
	signingPriv   *securemem.Handle
	signingPub    domain.Ed25519Public

	spkID   domain.SignedPreKeyID
	spkPriv *securemem.Handle
	spkPub  domain.X25519Public
	spkSig  []byte

	opks map[domain.OneTimePreKeyID]*oneTimePair

	ephPriv *securemem.Handle
	ephPub  domain.X25519Public

	destroyed bool
}

// Generate creates a complete fresh key set with opkCount one-time pre-keys.
// Pass a non-positive count to get DefaultOneTimePreKeyCount.
func Generate(opkCount int) (*Keys, error) {
	if opkCount <= 0 {
		opkCount = DefaultOneTimePreKeyCount
	}

	k := &Keys{opks: make(map[domain.OneTimePreKeyID]*oneTimePair, opkCount)}

	aPriv, aPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	// FromBytes wipes the source array as it moves it into guarded memory.
	if k.agreementPriv, err = securemem.FromBytes(aPriv[:]); err != nil {
		return nil, err
	}
	k.agreementPub = aPub

	sPriv, sPub, err := crypto.GenerateEd25519()
	if err != nil {
		k.Destroy()
		return nil, err
	}
	spkPriv, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		securemem.Wipe(sPriv[:])
		k.Destroy()
		return nil, err
	}
	k.spkSig = crypto.SignEd25519(sPriv, spkPub.Slice())
	if k.signingPriv, err = securemem.FromBytes(sPriv[:]); err != nil {
		securemem.Wipe(spkPriv[:])
		k.Destroy()
		return nil, err
	}
	k.signingPub = sPub

	if k.spkPriv, err = securemem.FromBytes(spkPriv[:]); err != nil {
		k.Destroy()
		return nil, err
	}
	k.spkPub = spkPub
	if k.spkID, err = randomSignedPreKeyID(); err != nil {
		k.Destroy()
		return nil, err
	}

	for i := 1; i <= opkCount; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			k.Destroy()
			return nil, err
		}
		handle, err := securemem.FromBytes(priv[:])
		if err != nil {
			k.Destroy()
			return nil, err
		}
		k.opks[domain.OneTimePreKeyID(i)] = &oneTimePair{priv: handle, pub: pub}
	}
	return k, nil
}

// FromMaterial rebuilds a key set from its serialised form. The private
// fields of m are wiped as they are moved into guarded memory.
func FromMaterial(m *domain.KeyMaterial) (*Keys, error) {
	defer m.Wipe()

	if len(m.AgreementPrivate) != 32 || len(m.AgreementPublic) != 32 ||
		len(m.SigningPrivate) != 64 || len(m.SigningPublic) != 32 ||
		len(m.SignedPreKeyPrivate) != 32 || len(m.SignedPreKeyPublic) != 32 ||
		len(m.SignedPreKeySignature) != 64 {
		return nil, failure.New(failure.Decode, "key material field lengths")
	}

	k := &Keys{opks: make(map[domain.OneTimePreKeyID]*oneTimePair, len(m.OneTimePreKeys))}
	var err error

	if k.agreementPriv, err = securemem.FromBytes(m.AgreementPrivate); err != nil {
		return nil, err
	}
	k.agreementPub = domain.MustX25519Public(m.AgreementPublic)

	if k.signingPriv, err = securemem.FromBytes(m.SigningPrivate); err != nil {
		k.Destroy()
		return nil, err
	}
	k.signingPub = domain.MustEd25519Public(m.SigningPublic)

	if k.spkPriv, err = securemem.FromBytes(m.SignedPreKeyPrivate); err != nil {
		k.Destroy()
		return nil, err
	}
	k.spkPub = domain.MustX25519Public(m.SignedPreKeyPublic)
	k.spkID = m.SignedPreKeyID
	k.spkSig = append([]byte(nil), m.SignedPreKeySignature...)

	for _, pair := range m.OneTimePreKeys {
		if len(pair.Private) != 32 || len(pair.Public) != 32 {
			k.Destroy()
			return nil, failure.Newf(failure.Decode, "one-time pre-key %d lengths", pair.ID)
		}
		handle, err := securemem.FromBytes(pair.Private)
		if err != nil {
			k.Destroy()
			return nil, err
		}
		k.opks[pair.ID] = &oneTimePair{priv: handle, pub: domain.MustX25519Public(pair.Public)}
	}
	return k, nil
}

// Material serialises the key set for the keystore. The caller owns the
// result and must Wipe it after persisting. The handshake ephemeral is
// deliberately not included; it never leaves memory.
func (k *Keys) Material() (*domain.KeyMaterial, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "identity keys")
	}

	m := &domain.KeyMaterial{
		AgreementPrivate:      make([]byte, 32),
		AgreementPublic:       k.agreementPub.Slice(),
		SigningPrivate:        make([]byte, 64),
		SigningPublic:         k.signingPub.Slice(),
		SignedPreKeyID:        k.spkID,
		SignedPreKeyPrivate:   make([]byte, 32),
		SignedPreKeyPublic:    k.spkPub.Slice(),
		SignedPreKeySignature: append([]byte(nil), k.spkSig...),
	}
	if err := k.agreementPriv.Read(m.AgreementPrivate); err != nil {
		return nil, err
	}
	if err := k.signingPriv.Read(m.SigningPrivate); err != nil {
		m.Wipe()
		return nil, err
	}
	if err := k.spkPriv.Read(m.SignedPreKeyPrivate); err != nil {
		m.Wipe()
		return nil, err
	}

	ids := make([]domain.OneTimePreKeyID, 0, len(k.opks))
	for id := range k.opks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		pair := k.opks[id]
		priv := make([]byte, 32)
		if err := pair.priv.Read(priv); err != nil {
			m.Wipe()
			return nil, err
		}
		m.OneTimePreKeys = append(m.OneTimePreKeys, domain.OneTimePreKeyPair{
			ID:      id,
			Private: priv,
			Public:  pair.pub.Slice(),
		})
	}
	return m, nil
}

// AgreementPublic returns the long-term agreement public key.
func (k *Keys) AgreementPublic() domain.X25519Public { return k.agreementPub }

// SigningPublic returns the long-term signing public key.
func (k *Keys) SigningPublic() domain.Ed25519Public { return k.signingPub }

// Fingerprint identifies the agreement public key for display.
func (k *Keys) Fingerprint() domain.Fingerprint {
	return crypto.Fingerprint(k.agreementPub.Slice())
}

// AgreementHandle exposes the guarded agreement private key for DH.
func (k *Keys) AgreementHandle() *securemem.Handle { return k.agreementPriv }

// GenerateEphemeralKeyPair replaces the handshake ephemeral in place,
// disposing any previous one, and returns the new public key.
func (k *Keys) GenerateEphemeralKeyPair() (domain.X25519Public, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.X25519Public{}, err
	}
	handle, err := securemem.FromBytes(priv[:])
	if err != nil {
		return domain.X25519Public{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		handle.Dispose()
		return domain.X25519Public{}, failure.New(failure.ObjectDisposed, "identity keys")
	}
	if k.ephPriv != nil {
		k.ephPriv.Dispose()
	}
	k.ephPriv = handle
	k.ephPub = pub
	return pub, nil
}

// EphemeralHandle exposes the guarded ephemeral private key. It fails until
// GenerateEphemeralKeyPair has been called.
func (k *Keys) EphemeralHandle() (*securemem.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ephPriv == nil {
		return nil, failure.New(failure.EphemeralMissing, "no handshake ephemeral")
	}
	return k.ephPriv, nil
}

// EphemeralPublic returns the current ephemeral public key.
func (k *Keys) EphemeralPublic() (domain.X25519Public, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ephPriv == nil {
		return domain.X25519Public{}, failure.New(failure.EphemeralMissing, "no handshake ephemeral")
	}
	return k.ephPub, nil
}

// PublicBundle assembles the bundle this endpoint sends in a handshake. The
// initiator advertises its one-time pre-keys; the responder instead echoes
// the id it consumed. A handshake ephemeral must exist.
func (k *Keys) PublicBundle(advertiseOneTime bool, retrieved *domain.OneTimePreKeyID) (*domain.PublicBundle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "identity keys")
	}
	if k.ephPriv == nil {
		return nil, failure.New(failure.EphemeralMissing, "bundle needs a handshake ephemeral")
	}

	b := &domain.PublicBundle{
		IdentityAgreementKey:     k.agreementPub.Slice(),
		IdentitySigningKey:       k.signingPub.Slice(),
		SignedPreKeyID:           k.spkID,
		SignedPreKey:             k.spkPub.Slice(),
		SignedPreKeySignature:    append([]byte(nil), k.spkSig...),
		EphemeralKey:             k.ephPub.Slice(),
		RetrievedOneTimePreKeyID: retrieved,
	}
	if advertiseOneTime {
		ids := make([]domain.OneTimePreKeyID, 0, len(k.opks))
		for id := range k.opks {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			b.OneTimePreKeys = append(b.OneTimePreKeys, domain.OneTimePreKeyPublic{
				ID:  id,
				Pub: k.opks[id].pub.Slice(),
			})
		}
	}
	return b, nil
}

// ConsumeOneTimePreKey removes the pre-key from the pool and hands its
// private half to the caller, who must dispose it. A second consume of the
// same id fails; pre-keys are strictly single use.
func (k *Keys) ConsumeOneTimePreKey(id domain.OneTimePreKeyID) (*securemem.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "identity keys")
	}
	pair, ok := k.opks[id]
	if !ok {
		return nil, failure.Newf(failure.Handshake, "one-time pre-key %d unknown or already consumed", id)
	}
	delete(k.opks, id)
	return pair.priv, nil
}

// OneTimePreKeyCount reports how many unused pre-keys remain in the pool.
func (k *Keys) OneTimePreKeyCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.opks)
}

// Destroy wipes every private key. The set is unusable afterwards; calling
// Destroy again is a no-op.
func (k *Keys) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return
	}
	k.destroyed = true
	for _, h := range []*securemem.Handle{k.agreementPriv, k.signingPriv, k.spkPriv, k.ephPriv} {
		if h != nil {
			h.Dispose()
		}
	}
	for _, pair := range k.opks {
		pair.priv.Dispose()
	}
	k.opks = nil
}

// SignWithIdentity signs msg with the long-term signing key.
func (k *Keys) SignWithIdentity(msg []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return nil, failure.New(failure.ObjectDisposed, "identity keys")
	}
	var priv domain.Ed25519Private
	if err := k.signingPriv.Read(priv[:]); err != nil {
		return nil, err
	}
	defer securemem.Wipe(priv[:])
	return crypto.SignEd25519(priv, msg), nil
}

func randomSignedPreKeyID() (domain.SignedPreKeyID, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, failure.Wrap(failure.KeyGeneration, "signed pre-key id", err)
	}
	id := binary.BigEndian.Uint32(b[:])
	if id == 0 {
		id = 1
	}
	return domain.SignedPreKeyID(id), nil
}

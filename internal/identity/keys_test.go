package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ecliptix/internal/crypto"
	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/identity"
)

func makeKeys(t *testing.T, opkCount int) *identity.Keys {
	t.Helper()
	k, err := identity.Generate(opkCount)
	require.NoError(t, err)
	t.Cleanup(k.Destroy)
	return k
}

func TestGenerate_Defaults(t *testing.T) {
	k := makeKeys(t, 0)
	require.Equal(t, identity.DefaultOneTimePreKeyCount, k.OneTimePreKeyCount())
	require.False(t, k.AgreementPublic().IsZero())
	require.Len(t, string(k.Fingerprint()), 20)
}

func TestMaterialRoundTrip(t *testing.T) {
	k := makeKeys(t, 4)

	m, err := k.Material()
	require.NoError(t, err)

	restored, err := identity.FromMaterial(m)
	require.NoError(t, err)
	defer restored.Destroy()

	require.Equal(t, k.AgreementPublic(), restored.AgreementPublic())
	require.Equal(t, k.SigningPublic(), restored.SigningPublic())
	require.Equal(t, k.Fingerprint(), restored.Fingerprint())
	require.Equal(t, 4, restored.OneTimePreKeyCount())

	// The restored signing key must still produce signatures the original
	// public key verifies.
	sig, err := restored.SignWithIdentity([]byte("material round trip"))
	require.NoError(t, err)
	require.True(t, crypto.VerifyEd25519(k.SigningPublic(), []byte("material round trip"), sig))
}

func TestFromMaterial_WipesInput(t *testing.T) {
	k := makeKeys(t, 2)

	m, err := k.Material()
	require.NoError(t, err)

	restored, err := identity.FromMaterial(m)
	require.NoError(t, err)
	restored.Destroy()

	require.Equal(t, make([]byte, len(m.AgreementPrivate)), m.AgreementPrivate)
	require.Equal(t, make([]byte, len(m.SigningPrivate)), m.SigningPrivate)
	require.Equal(t, make([]byte, len(m.SignedPreKeyPrivate)), m.SignedPreKeyPrivate)
}

func TestEphemeral_ReplacedInPlace(t *testing.T) {
	k := makeKeys(t, 1)

	_, err := k.EphemeralPublic()
	require.True(t, failure.Is(err, failure.EphemeralMissing))

	first, err := k.GenerateEphemeralKeyPair()
	require.NoError(t, err)
	second, err := k.GenerateEphemeralKeyPair()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	current, err := k.EphemeralPublic()
	require.NoError(t, err)
	require.Equal(t, second, current)
}

func TestPublicBundle_InitiatorAdvertisesPreKeys(t *testing.T) {
	k := makeKeys(t, 3)

	_, err := k.PublicBundle(true, nil)
	require.True(t, failure.Is(err, failure.EphemeralMissing))

	_, err = k.GenerateEphemeralKeyPair()
	require.NoError(t, err)

	b, err := k.PublicBundle(true, nil)
	require.NoError(t, err)
	require.NoError(t, b.Validate())
	require.Len(t, b.OneTimePreKeys, 3)
	require.Nil(t, b.RetrievedOneTimePreKeyID)

	// Advertised ids are sorted ascending.
	for i := 1; i < len(b.OneTimePreKeys); i++ {
		require.Less(t, b.OneTimePreKeys[i-1].ID, b.OneTimePreKeys[i].ID)
	}
}

func TestPublicBundle_ResponderEchoesConsumedID(t *testing.T) {
	k := makeKeys(t, 2)
	_, err := k.GenerateEphemeralKeyPair()
	require.NoError(t, err)

	id := domain.OneTimePreKeyID(2)
	b, err := k.PublicBundle(false, &id)
	require.NoError(t, err)
	require.NoError(t, b.Validate())
	require.Empty(t, b.OneTimePreKeys)
	require.NotNil(t, b.RetrievedOneTimePreKeyID)
	require.Equal(t, id, *b.RetrievedOneTimePreKeyID)
}

func TestBundleSignature_Verifies(t *testing.T) {
	k := makeKeys(t, 1)
	_, err := k.GenerateEphemeralKeyPair()
	require.NoError(t, err)

	b, err := k.PublicBundle(true, nil)
	require.NoError(t, err)

	pub, ok := domain.X25519PublicFromBytes(b.IdentityAgreementKey)
	require.True(t, ok)
	require.Equal(t, k.AgreementPublic(), pub)

	signing := domain.MustEd25519Public(b.IdentitySigningKey)
	require.True(t, crypto.VerifyEd25519(signing, b.SignedPreKey, b.SignedPreKeySignature))
}

func TestConsumeOneTimePreKey_SingleUse(t *testing.T) {
	k := makeKeys(t, 2)

	h, err := k.ConsumeOneTimePreKey(1)
	require.NoError(t, err)
	h.Dispose()
	require.Equal(t, 1, k.OneTimePreKeyCount())

	_, err = k.ConsumeOneTimePreKey(1)
	require.True(t, failure.Is(err, failure.Handshake))

	_, err = k.ConsumeOneTimePreKey(99)
	require.True(t, failure.Is(err, failure.Handshake))
}

func TestDestroy_Terminal(t *testing.T) {
	k := makeKeys(t, 1)
	k.Destroy()
	k.Destroy()

	_, err := k.Material()
	require.True(t, failure.Is(err, failure.ObjectDisposed))
	_, err = k.GenerateEphemeralKeyPair()
	require.True(t, failure.Is(err, failure.ObjectDisposed))
	_, err = k.SignWithIdentity([]byte("x"))
	require.True(t, failure.Is(err, failure.ObjectDisposed))
}

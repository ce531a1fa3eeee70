package ratchet_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"ecliptix/internal/crypto"
	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/protocol/ratchet"
	"ecliptix/internal/securemem"
)

func makePair(t *testing.T, rotateEvery uint64) (*ratchet.Session, *ratchet.Session) {
	t.Helper()

	root := make([]byte, 32)
	_, err := rand.Read(root)
	require.NoError(t, err)

	initPriv, initPub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	respPriv, respPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	rootA, err := securemem.FromBytes(append([]byte(nil), root...))
	require.NoError(t, err)
	rootB, err := securemem.FromBytes(root)
	require.NoError(t, err)
	initHandle, err := securemem.FromBytes(initPriv[:])
	require.NoError(t, err)
	respHandle, err := securemem.FromBytes(respPriv[:])
	require.NoError(t, err)

	a, err := ratchet.NewSession(ratchet.Params{
		Connect:     7,
		Role:        ratchet.Initiator,
		Root:        rootA,
		DHPriv:      initHandle,
		DHPub:       initPub,
		PeerDH:      respPub,
		RotateEvery: rotateEvery,
	})
	require.NoError(t, err)
	b, err := ratchet.NewSession(ratchet.Params{
		Connect:     7,
		Role:        ratchet.Responder,
		Root:        rootB,
		DHPriv:      respHandle,
		DHPub:       respPub,
		PeerDH:      initPub,
		RotateEvery: rotateEvery,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Destroy()
		b.Destroy()
	})
	return a, b
}

func readKey(t *testing.T, mk *ratchet.MessageKey) []byte {
	t.Helper()
	out := make([]byte, 32)
	require.NoError(t, mk.Key().Read(out))
	return out
}

// relay moves one message from one session to the other and requires the
// derived keys to agree.
func relay(t *testing.T, from, to *ratchet.Session) {
	t.Helper()
	mk, announce, err := from.PrepareNextSendMessage()
	require.NoError(t, err)
	defer mk.Destroy()

	got, err := to.ProcessReceivedMessage(mk.Index(), announce)
	require.NoError(t, err)
	defer got.Destroy()

	require.Equal(t, readKey(t, mk), readKey(t, got))
}

func TestSendReceive_KeysAgree(t *testing.T) {
	a, b := makePair(t, 0)
	for i := 0; i < 5; i++ {
		relay(t, a, b)
		relay(t, b, a)
	}
	require.Equal(t, uint64(5), a.SendCount())
	require.Equal(t, uint64(5), a.ReceiveCount())
}

func TestOneWayFlow_CrossesRotation(t *testing.T) {
	a, b := makePair(t, 100)

	for i := uint64(0); i < 1000; i++ {
		mk, announce, err := a.PrepareNextSendMessage()
		require.NoError(t, err)
		require.Equal(t, i, mk.Index())

		if i == 100 {
			require.NotNil(t, announce, "rotation must announce at index 100")
		} else {
			require.Nil(t, announce, "unexpected announce at index %d", i)
		}

		got, err := b.ProcessReceivedMessage(mk.Index(), announce)
		require.NoError(t, err)
		require.Equal(t, readKey(t, mk), readKey(t, got))
		mk.Destroy()
		got.Destroy()
	}

	require.Equal(t, a.CurrentDHPublic(), b.PeerDHPublic())
	require.Equal(t, uint64(1000), b.ReceiveCount())
}

func TestPingPong_KeysAgree(t *testing.T) {
	a, b := makePair(t, 0)
	dhBefore := a.CurrentDHPublic()
	for i := 0; i < 50; i++ {
		relay(t, a, b)
		relay(t, b, a)
	}
	// Below the rotation interval neither side changes its ratchet key.
	require.Equal(t, dhBefore, a.CurrentDHPublic())
}

func TestPingPong_RatchetCascade(t *testing.T) {
	a, b := makePair(t, 1)

	aBefore := a.CurrentDHPublic()
	bBefore := b.CurrentDHPublic()
	for i := 0; i < 50; i++ {
		relay(t, a, b)
		relay(t, b, a)
	}
	require.NotEqual(t, aBefore, a.CurrentDHPublic())
	require.NotEqual(t, bBefore, b.CurrentDHPublic())
	// The responder announced last, so its key is what the initiator holds.
	require.Equal(t, b.CurrentDHPublic(), a.PeerDHPublic())
}

func TestOutOfOrder_CachedAndSingleUse(t *testing.T) {
	a, b := makePair(t, 0)

	type prepared struct {
		mk       *ratchet.MessageKey
		announce *domain.X25519Public
	}
	var msgs []prepared
	for i := 0; i < 5; i++ {
		mk, announce, err := a.PrepareNextSendMessage()
		require.NoError(t, err)
		msgs = append(msgs, prepared{mk, announce})
	}
	defer func() {
		for _, m := range msgs {
			m.mk.Destroy()
		}
	}()

	deliver := func(i int) *ratchet.MessageKey {
		got, err := b.ProcessReceivedMessage(msgs[i].mk.Index(), msgs[i].announce)
		require.NoError(t, err)
		require.Equal(t, readKey(t, msgs[i].mk), readKey(t, got))
		return got
	}

	deliver(0).Destroy()
	deliver(4).Destroy()
	require.Equal(t, 3, b.SkippedKeyCount())

	deliver(2).Destroy()
	require.Equal(t, 2, b.SkippedKeyCount())

	// Cached keys are single use.
	_, err := b.ProcessReceivedMessage(msgs[2].mk.Index(), nil)
	require.Error(t, err)
	require.True(t, failure.Is(err, failure.Decryption))

	deliver(1).Destroy()
	deliver(3).Destroy()
	require.Equal(t, 0, b.SkippedKeyCount())
}

func TestReplay_Rejected(t *testing.T) {
	a, b := makePair(t, 0)

	mk, announce, err := a.PrepareNextSendMessage()
	require.NoError(t, err)
	defer mk.Destroy()

	got, err := b.ProcessReceivedMessage(mk.Index(), announce)
	require.NoError(t, err)
	got.Destroy()

	_, err = b.ProcessReceivedMessage(mk.Index(), announce)
	require.Error(t, err)
	require.True(t, failure.Is(err, failure.Decryption))
}

func TestSkipAhead_Limited(t *testing.T) {
	_, b := makePair(t, 0)

	_, err := b.ProcessReceivedMessage(1001, nil)
	require.Error(t, err)
	require.True(t, failure.Is(err, failure.DataTooLarge))

	// The limit itself is allowed.
	got, err := b.ProcessReceivedMessage(1000, nil)
	require.NoError(t, err)
	got.Destroy()
	require.Equal(t, 1000, b.SkippedKeyCount())
}

func TestStraggler_AcrossRatchet(t *testing.T) {
	a, b := makePair(t, 3)

	relay(t, a, b)
	relay(t, a, b)

	// Index 2 is held back; index 3 arrives first and carries the rotated
	// key, so the old-chain key for 2 must be cached before the ratchet.
	held, heldAnnounce, err := a.PrepareNextSendMessage()
	require.NoError(t, err)
	require.Nil(t, heldAnnounce)
	defer held.Destroy()

	mk3, announce, err := a.PrepareNextSendMessage()
	require.NoError(t, err)
	require.NotNil(t, announce)
	defer mk3.Destroy()

	got3, err := b.ProcessReceivedMessage(mk3.Index(), announce)
	require.NoError(t, err)
	require.Equal(t, readKey(t, mk3), readKey(t, got3))
	got3.Destroy()
	require.Equal(t, 1, b.SkippedKeyCount())

	got2, err := b.ProcessReceivedMessage(held.Index(), nil)
	require.NoError(t, err)
	require.Equal(t, readKey(t, held), readKey(t, got2))
	got2.Destroy()
	require.Equal(t, 0, b.SkippedKeyCount())

	// Flow continues on the new chains.
	relay(t, a, b)
	relay(t, b, a)
}

func TestNonces_DirectionalAndIndexed(t *testing.T) {
	a, b := makePair(t, 0)

	na, err := a.GenerateNextNonce(5)
	require.NoError(t, err)
	nb, err := b.ReceiveNonce(5)
	require.NoError(t, err)
	require.Equal(t, na, nb, "send nonce must match the peer's receive nonce")

	reverse, err := a.ReceiveNonce(5)
	require.NoError(t, err)
	require.NotEqual(t, na, reverse, "directions must use distinct prefixes")

	next, err := a.GenerateNextNonce(6)
	require.NoError(t, err)
	require.Equal(t, na[:4], next[:4])
	require.NotEqual(t, na, next)
}

func TestSnapshotRestore_MidConversation(t *testing.T) {
	a, b := makePair(t, 3)

	relay(t, a, b)
	relay(t, a, b)

	// Hold index 2 back and deliver the rotation envelope first, so the
	// snapshot carries a cached old-chain key and a pending announcement.
	held, heldAnnounce, err := a.PrepareNextSendMessage()
	require.NoError(t, err)
	require.Nil(t, heldAnnounce)
	defer held.Destroy()

	mk3, announce, err := a.PrepareNextSendMessage()
	require.NoError(t, err)
	require.NotNil(t, announce)
	defer mk3.Destroy()
	got3, err := b.ProcessReceivedMessage(mk3.Index(), announce)
	require.NoError(t, err)
	got3.Destroy()
	require.Equal(t, 1, b.SkippedKeyCount())

	blob, err := b.Snapshot()
	require.NoError(t, err)

	b2, err := ratchet.RestoreSession(blob)
	require.NoError(t, err)
	defer b2.Destroy()
	require.Equal(t, make([]byte, len(blob)), blob, "restore must wipe the blob")

	b.Destroy()

	require.Equal(t, uint64(4), b2.ReceiveCount())
	require.Equal(t, uint64(0), b2.SendCount())
	require.Equal(t, 1, b2.SkippedKeyCount())

	got2, err := b2.ProcessReceivedMessage(held.Index(), nil)
	require.NoError(t, err)
	require.Equal(t, readKey(t, held), readKey(t, got2))
	got2.Destroy()
	require.Equal(t, 0, b2.SkippedKeyCount())

	// The restored side still owes its post-ratchet key announcement.
	mk, reply, err := b2.PrepareNextSendMessage()
	require.NoError(t, err)
	require.NotNil(t, reply)
	gotA, err := a.ProcessReceivedMessage(mk.Index(), reply)
	require.NoError(t, err)
	require.Equal(t, readKey(t, mk), readKey(t, gotA))
	mk.Destroy()
	gotA.Destroy()

	relay(t, a, b2)
}

func TestNewSession_Validation(t *testing.T) {
	priv, pub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	_, peerPub, err := crypto.GenerateX25519()
	require.NoError(t, err)

	handle := func(b []byte) *securemem.Handle {
		h, err := securemem.FromBytes(b)
		require.NoError(t, err)
		return h
	}

	_, err = ratchet.NewSession(ratchet.Params{
		Role: ratchet.Initiator, DHPriv: handle(priv.Slice()), DHPub: pub, PeerDH: peerPub,
	})
	require.True(t, failure.Is(err, failure.InvalidInput))

	_, err = ratchet.NewSession(ratchet.Params{
		Role: ratchet.Initiator, Root: handle(make([]byte, 16)),
		DHPriv: handle(priv.Slice()), DHPub: pub, PeerDH: peerPub,
	})
	require.True(t, failure.Is(err, failure.InvalidInput))

	_, err = ratchet.NewSession(ratchet.Params{
		Role: 9, Root: handle(make([]byte, 32)),
		DHPriv: handle(priv.Slice()), DHPub: pub, PeerDH: peerPub,
	})
	require.True(t, failure.Is(err, failure.InvalidInput))

	_, err = ratchet.NewSession(ratchet.Params{
		Role: ratchet.Responder, Root: handle(make([]byte, 32)),
		DHPriv: handle(priv.Slice()), DHPub: pub,
	})
	require.True(t, failure.Is(err, failure.PeerPubKey))
}

func TestDestroy_Terminal(t *testing.T) {
	a, _ := makePair(t, 0)

	a.Destroy()
	a.Destroy()

	_, _, err := a.PrepareNextSendMessage()
	require.True(t, failure.Is(err, failure.ObjectDisposed))
	_, err = a.ProcessReceivedMessage(0, nil)
	require.True(t, failure.Is(err, failure.ObjectDisposed))
	_, err = a.Snapshot()
	require.True(t, failure.Is(err, failure.ObjectDisposed))
}

package channel_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"ecliptix/internal/domain"
	"ecliptix/internal/failure"
	"ecliptix/internal/identity"
	"ecliptix/internal/protocol/channel"
)

const testConnect = domain.ConnectID(42)

func makeEndpoints(t *testing.T, rotateEvery uint64) (alice, bob *channel.System, aliceKeys, bobKeys *identity.Keys) {
	t.Helper()
	aliceKeys, err := identity.Generate(4)
	require.NoError(t, err)
	bobKeys, err = identity.Generate(4)
	require.NoError(t, err)

	alice = channel.NewSystem(aliceKeys, rotateEvery)
	bob = channel.NewSystem(bobKeys, rotateEvery)
	t.Cleanup(func() {
		alice.Close()
		bob.Close()
		aliceKeys.Destroy()
		bobKeys.Destroy()
	})
	return alice, bob, aliceKeys, bobKeys
}

func establish(t *testing.T, alice, bob *channel.System, connect domain.ConnectID) {
	t.Helper()
	opening, err := alice.BeginKeyExchange(connect, domain.ExchangeDataCenterEphemeral)
	require.NoError(t, err)
	require.Equal(t, domain.StateInit, opening.State)

	reply, err := bob.RespondKeyExchange(connect, &opening)
	require.NoError(t, err)
	require.Equal(t, domain.StatePending, reply.State)
	require.Equal(t, domain.StateComplete, bob.State(connect))

	require.NoError(t, alice.FinalizeKeyExchange(connect, &reply))
	require.Equal(t, domain.StateComplete, alice.State(connect))
}

func roundTrip(t *testing.T, from, to *channel.System, connect domain.ConnectID, plaintext []byte) {
	t.Helper()
	payload, err := from.ProduceOutboundMessage(connect, plaintext)
	require.NoError(t, err)
	require.NoError(t, payload.Validate())

	got, err := to.ProcessInboundMessage(connect, payload)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestEstablishAndExchange(t *testing.T) {
	alice, bob, aliceKeys, bobKeys := makeEndpoints(t, 0)
	establish(t, alice, bob, testConnect)

	roundTrip(t, alice, bob, testConnect, []byte("hello"))
	roundTrip(t, bob, alice, testConnect, []byte("world"))
	for i := 0; i < 50; i++ {
		roundTrip(t, alice, bob, testConnect, []byte(fmt.Sprintf("to bob %d", i)))
		roundTrip(t, bob, alice, testConnect, []byte(fmt.Sprintf("to alice %d", i)))
	}

	require.Equal(t, bobKeys.Fingerprint(), alice.PeerFingerprint(testConnect))
	require.Equal(t, aliceKeys.Fingerprint(), bob.PeerFingerprint(testConnect))
}

func TestHandshake_ConsumesOneTimePreKey(t *testing.T) {
	alice, bob, aliceKeys, _ := makeEndpoints(t, 0)

	require.Equal(t, 4, aliceKeys.OneTimePreKeyCount())

	opening, err := alice.BeginKeyExchange(testConnect, domain.ExchangeDataCenterEphemeral)
	require.NoError(t, err)
	reply, err := bob.RespondKeyExchange(testConnect, &opening)
	require.NoError(t, err)

	replyBundle, err := reply.Bundle()
	require.NoError(t, err)
	require.NotNil(t, replyBundle.RetrievedOneTimePreKeyID)
	require.Equal(t, domain.OneTimePreKeyID(1), *replyBundle.RetrievedOneTimePreKeyID,
		"responder picks the lowest advertised id")

	require.NoError(t, alice.FinalizeKeyExchange(testConnect, &reply))
	require.Equal(t, 3, aliceKeys.OneTimePreKeyCount())

	roundTrip(t, alice, bob, testConnect, []byte("after pre-key consumption"))
}

func TestHandshake_RejectsWrongState(t *testing.T) {
	alice, bob, _, _ := makeEndpoints(t, 0)

	opening, err := alice.BeginKeyExchange(testConnect, domain.ExchangeDataCenterEphemeral)
	require.NoError(t, err)
	reply, err := bob.RespondKeyExchange(testConnect, &opening)
	require.NoError(t, err)

	// A responder fed a pending message must refuse it.
	_, err = bob.RespondKeyExchange(99, &reply)
	require.True(t, failure.Is(err, failure.InvalidInput))

	// Finalize with the opening message instead of the reply.
	err = alice.FinalizeKeyExchange(testConnect, &opening)
	require.True(t, failure.Is(err, failure.InvalidInput))

	// The failed finalize discards the pending exchange.
	err = alice.FinalizeKeyExchange(testConnect, &reply)
	require.True(t, failure.Is(err, failure.StateMissing))
}

func TestHandshake_RejectsBadSignature(t *testing.T) {
	alice, bob, _, _ := makeEndpoints(t, 0)

	opening, err := alice.BeginKeyExchange(testConnect, domain.ExchangeDataCenterEphemeral)
	require.NoError(t, err)

	bundle, err := opening.Bundle()
	require.NoError(t, err)
	bundle.SignedPreKeySignature[0] ^= 0x01
	forged, err := domain.NewHandshakeMessage(opening.Exchange, opening.State, bundle,
		domain.MustX25519Public(opening.RatchetKey))
	require.NoError(t, err)

	_, err = bob.RespondKeyExchange(testConnect, &forged)
	require.True(t, failure.Is(err, failure.Handshake))
}

func TestHandshake_BadOpeningKeepsEstablishedChannel(t *testing.T) {
	alice, bob, _, _ := makeEndpoints(t, 0)
	establish(t, alice, bob, testConnect)

	garbage := domain.HandshakeMessage{
		Exchange:   domain.ExchangeDataCenterEphemeral,
		State:      domain.StateInit,
		Payload:    []byte{0x01},
		RatchetKey: bytes.Repeat([]byte{0x02}, 32),
	}
	_, err := bob.RespondKeyExchange(testConnect, &garbage)
	require.Error(t, err)

	require.Equal(t, domain.StateComplete, bob.State(testConnect))
	roundTrip(t, alice, bob, testConnect, []byte("still intact"))
}

func TestProduceProcess_RequireEstablishedChannel(t *testing.T) {
	alice, _, _, _ := makeEndpoints(t, 0)

	_, err := alice.ProduceOutboundMessage(testConnect, []byte("x"))
	require.True(t, failure.Is(err, failure.StateMissing))

	_, err = alice.BeginKeyExchange(testConnect, domain.ExchangeDataCenterEphemeral)
	require.NoError(t, err)
	_, err = alice.ProduceOutboundMessage(testConnect, []byte("x"))
	require.True(t, failure.Is(err, failure.StateMissing))
}

func TestProcessInbound_RejectsTamper(t *testing.T) {
	alice, bob, _, _ := makeEndpoints(t, 0)
	establish(t, alice, bob, testConnect)

	payload, err := alice.ProduceOutboundMessage(testConnect, []byte("untouched"))
	require.NoError(t, err)

	tampered := *payload
	tampered.Cipher = append([]byte(nil), payload.Cipher...)
	tampered.Cipher[0] ^= 0x01
	_, err = bob.ProcessInboundMessage(testConnect, &tampered)
	require.True(t, failure.Is(err, failure.Decryption))
}

func TestProcessInbound_OutOfOrderAndReplay(t *testing.T) {
	alice, bob, _, _ := makeEndpoints(t, 0)
	establish(t, alice, bob, testConnect)

	var payloads []*domain.CipherPayload
	for i := 0; i < 3; i++ {
		p, err := alice.ProduceOutboundMessage(testConnect, []byte(fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
		payloads = append(payloads, p)
	}

	for _, i := range []int{0, 2, 1} {
		got, err := bob.ProcessInboundMessage(testConnect, payloads[i])
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("msg %d", i)), got)
	}

	_, err := bob.ProcessInboundMessage(testConnect, payloads[1])
	require.True(t, failure.Is(err, failure.Decryption))
}

func TestRotationKeyTravelsOnEnvelope(t *testing.T) {
	alice, bob, _, _ := makeEndpoints(t, 2)
	establish(t, alice, bob, testConnect)

	var sawKey bool
	for i := 0; i < 6; i++ {
		payload, err := alice.ProduceOutboundMessage(testConnect, []byte("tick"))
		require.NoError(t, err)
		if payload.RatchetIndex == 2 {
			require.NotEmpty(t, payload.DHPublicKey)
			sawKey = true
		} else {
			require.Empty(t, payload.DHPublicKey)
		}
		got, err := bob.ProcessInboundMessage(testConnect, payload)
		require.NoError(t, err)
		require.Equal(t, []byte("tick"), got)
	}
	require.True(t, sawKey)

	// Bob's receiving ratchet produced a fresh pair; his next reply
	// announces it and Alice follows.
	reply, err := bob.ProduceOutboundMessage(testConnect, []byte("tock"))
	require.NoError(t, err)
	require.NotEmpty(t, reply.DHPublicKey)
	got, err := alice.ProcessInboundMessage(testConnect, reply)
	require.NoError(t, err)
	require.Equal(t, []byte("tock"), got)
}

func TestSnapshotRestore_ResumesChannel(t *testing.T) {
	alice, bob, _, bobKeys := makeEndpoints(t, 0)
	establish(t, alice, bob, testConnect)

	roundTrip(t, alice, bob, testConnect, []byte("before snapshot"))

	held, err := alice.ProduceOutboundMessage(testConnect, []byte("across the restart"))
	require.NoError(t, err)

	blob, err := bob.SnapshotChannel(testConnect)
	require.NoError(t, err)

	restoredBob := channel.NewSystem(bobKeys, 0)
	defer restoredBob.Close()
	require.NoError(t, restoredBob.RestoreChannel(testConnect, blob))
	require.True(t, bytes.Equal(blob, make([]byte, len(blob))), "restore must wipe the blob")
	require.Equal(t, domain.StateComplete, restoredBob.State(testConnect))

	got, err := restoredBob.ProcessInboundMessage(testConnect, held)
	require.NoError(t, err)
	require.Equal(t, []byte("across the restart"), got)

	roundTrip(t, restoredBob, alice, testConnect, []byte("and back"))
}

func TestRestoreChannel_RejectsWrongConnection(t *testing.T) {
	alice, bob, _, bobKeys := makeEndpoints(t, 0)
	establish(t, alice, bob, testConnect)

	blob, err := bob.SnapshotChannel(testConnect)
	require.NoError(t, err)

	other := channel.NewSystem(bobKeys, 0)
	defer other.Close()
	err = other.RestoreChannel(domain.ConnectID(99), blob)
	require.True(t, failure.Is(err, failure.InvalidInput))
}

func TestCloseChannel_DropsState(t *testing.T) {
	alice, bob, _, _ := makeEndpoints(t, 0)
	establish(t, alice, bob, testConnect)

	alice.CloseChannel(testConnect)
	_, err := alice.ProduceOutboundMessage(testConnect, []byte("x"))
	require.True(t, failure.Is(err, failure.StateMissing))
	require.Equal(t, domain.StateInvalid, alice.State(testConnect))
}

func TestSystemClose_Terminal(t *testing.T) {
	alice, bob, _, _ := makeEndpoints(t, 0)
	establish(t, alice, bob, testConnect)

	alice.Close()
	_, err := alice.ProduceOutboundMessage(testConnect, []byte("x"))
	require.True(t, failure.Is(err, failure.ObjectDisposed))
	_, err = alice.BeginKeyExchange(5, domain.ExchangeDataCenterEphemeral)
	require.True(t, failure.Is(err, failure.ObjectDisposed))
}

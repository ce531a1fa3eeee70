package failure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	require.Equal(t, "decryption failed", New(Decryption, "").Error())
	require.Equal(t, "decode failed: truncated envelope", New(Decode, "truncated envelope").Error())

	cause := errors.New("cipher: message authentication failed")
	f := Wrap(Decryption, "open envelope", cause)
	require.Equal(t, "decryption failed: open envelope: cipher: message authentication failed", f.Error())
	require.Equal(t, cause, errors.Unwrap(f))
}

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("send: %w", New(StateMissing, "connect 7"))

	require.True(t, Is(err, StateMissing))
	require.False(t, Is(err, Decryption))
	require.False(t, Is(errors.New("plain"), StateMissing))

	k, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, StateMissing, k)

	_, ok = KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{InvalidInput, http.StatusBadRequest},
		{Decode, http.StatusBadRequest},
		{BufferTooSmall, http.StatusBadRequest},
		{DataTooLarge, http.StatusBadRequest},
		{PeerPubKey, http.StatusForbidden},
		{Handshake, http.StatusForbidden},
		{Decryption, http.StatusForbidden},
		{StateMissing, http.StatusPreconditionFailed},
		{EphemeralMissing, http.StatusPreconditionFailed},
		{ObjectDisposed, http.StatusPreconditionFailed},
		{KeyGeneration, http.StatusInternalServerError},
		{KeyDerivation, http.StatusInternalServerError},
		{Allocation, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.kind.HTTPStatus(), tc.kind.String())
	}

	require.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("outside taxonomy")))
	require.Equal(t, http.StatusForbidden, StatusOf(fmt.Errorf("wrapped: %w", New(Handshake, ""))))
}

func TestKindStringsAreDistinct(t *testing.T) {
	seen := map[string]Kind{}
	for k := InvalidInput; k <= Decryption; k++ {
		s := k.String()
		prev, dup := seen[s]
		require.False(t, dup, "kinds %v and %v share string %q", prev, k, s)
		seen[s] = k
	}
}

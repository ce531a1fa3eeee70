package securemem

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"ecliptix/internal/failure"
)

func TestAllocateReadWrite(t *testing.T) {
	h, err := Allocate(32)
	require.NoError(t, err)
	defer h.Dispose()
	require.Equal(t, 32, h.Length())

	out := make([]byte, 32)
	require.NoError(t, h.Read(out))
	require.Equal(t, make([]byte, 32), out, "fresh buffer is zero-filled")

	secret := bytes.Repeat([]byte{0xA5}, 32)
	require.NoError(t, h.Write(secret))
	require.NoError(t, h.Read(out))
	require.Equal(t, secret, out)
}

func TestAllocateRejectsBadLength(t *testing.T) {
	_, err := Allocate(0)
	require.True(t, failure.Is(err, failure.InvalidInput))
	_, err = Allocate(-4)
	require.True(t, failure.Is(err, failure.InvalidInput))
}

func TestFromBytesWipesSource(t *testing.T) {
	src := []byte("super secret key material here!!")
	want := append([]byte(nil), src...)

	h, err := FromBytes(src)
	require.NoError(t, err)
	defer h.Dispose()

	require.Equal(t, make([]byte, len(src)), src, "source wiped after move")

	out := make([]byte, len(want))
	require.NoError(t, h.Read(out))
	require.Equal(t, want, out)
}

func TestFromBytesRejectsEmpty(t *testing.T) {
	_, err := FromBytes(nil)
	require.True(t, failure.Is(err, failure.InvalidInput))
}

func TestReadShortDestination(t *testing.T) {
	h, err := Allocate(32)
	require.NoError(t, err)
	defer h.Dispose()

	err = h.Read(make([]byte, 16))
	require.True(t, failure.Is(err, failure.BufferTooSmall))

	// A longer destination is fine; only Length bytes are written.
	long := bytes.Repeat([]byte{0xFF}, 48)
	require.NoError(t, h.Read(long))
	require.Equal(t, make([]byte, 32), long[:32])
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 16), long[32:])
}

func TestWriteOversizedSource(t *testing.T) {
	h, err := Allocate(16)
	require.NoError(t, err)
	defer h.Dispose()

	err = h.Write(make([]byte, 17))
	require.True(t, failure.Is(err, failure.DataTooLarge))

	// Prefix writes leave the tail untouched.
	require.NoError(t, h.Write(bytes.Repeat([]byte{1}, 16)))
	require.NoError(t, h.Write([]byte{9, 9}))
	out := make([]byte, 16)
	require.NoError(t, h.Read(out))
	require.Equal(t, []byte{9, 9}, out[:2])
	require.Equal(t, bytes.Repeat([]byte{1}, 14), out[2:])
}

func TestWithScopedAccess(t *testing.T) {
	h, err := FromBytes([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	defer h.Dispose()

	var seen []byte
	err = h.With(func(b []byte) error {
		seen = append(seen, b...)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, seen)
}

func TestCloneIsIndependent(t *testing.T) {
	h, err := FromBytes([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	defer h.Dispose()

	c, err := h.Clone()
	require.NoError(t, err)
	defer c.Dispose()

	require.NoError(t, c.Write([]byte{9, 9, 9, 9}))

	orig := make([]byte, 4)
	require.NoError(t, h.Read(orig))
	require.Equal(t, []byte{1, 2, 3, 4}, orig, "clone writes do not touch the original")

	h.Dispose()
	got := make([]byte, 4)
	require.NoError(t, c.Read(got), "clone survives original disposal")
	require.Equal(t, []byte{9, 9, 9, 9}, got)
}

func TestDisposeIsIdempotentAndTerminal(t *testing.T) {
	h, err := Allocate(8)
	require.NoError(t, err)
	h.Dispose()
	h.Dispose()

	buf := make([]byte, 8)
	require.True(t, failure.Is(h.Read(buf), failure.ObjectDisposed))
	require.True(t, failure.Is(h.Write(buf), failure.ObjectDisposed))
	require.True(t, failure.Is(h.With(func([]byte) error { return nil }), failure.ObjectDisposed))
	_, err = h.Clone()
	require.True(t, failure.Is(err, failure.ObjectDisposed))

	require.Equal(t, 8, h.Length(), "Length stays informational after disposal")
}

func TestWipeZeroesInPlace(t *testing.T) {
	b := bytes.Repeat([]byte{0xDE}, 64)
	Wipe(b)
	require.Equal(t, make([]byte, 64), b)

	Wipe(nil) // no-op
}

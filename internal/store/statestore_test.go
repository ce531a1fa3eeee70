package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ecliptix/internal/domain"
	"ecliptix/internal/store"
)

func makeStateStore(t *testing.T) *store.StateStore {
	t.Helper()
	ss, err := store.OpenStateStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })
	return ss
}

func TestStateStore_RoundTrip(t *testing.T) {
	ss := makeStateStore(t)

	_, ok, err := ss.LoadState(1)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ss.SaveState(1, []byte("snapshot one")))
	require.NoError(t, ss.SaveState(2, []byte("snapshot two")))

	got, ok, err := ss.LoadState(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("snapshot one"), got)
}

func TestStateStore_SaveOverwrites(t *testing.T) {
	ss := makeStateStore(t)

	require.NoError(t, ss.SaveState(7, []byte("old")))
	require.NoError(t, ss.SaveState(7, []byte("new")))

	got, ok, err := ss.LoadState(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("new"), got)
}

func TestStateStore_Delete(t *testing.T) {
	ss := makeStateStore(t)

	require.NoError(t, ss.SaveState(9, []byte("gone soon")))
	require.NoError(t, ss.DeleteState(9))
	require.NoError(t, ss.DeleteState(9))

	_, ok, err := ss.LoadState(9)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStateStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	ss, err := store.OpenStateStore(path)
	require.NoError(t, err)
	require.NoError(t, ss.SaveState(3, []byte("persisted")))
	require.NoError(t, ss.Close())

	reopened, err := store.OpenStateStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.LoadState(domain.ConnectID(3))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("persisted"), got)
}

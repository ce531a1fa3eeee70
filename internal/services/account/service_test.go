package account_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ecliptix/internal/failure"
	"ecliptix/internal/services/account"
	"ecliptix/internal/store"
)

const testPassphrase = "Correct-Horse-Battery-7"

func makeService(t *testing.T) *account.Service {
	t.Helper()
	return account.New(store.NewKeyStore(t.TempDir()))
}

func TestCreateAndUnlock(t *testing.T) {
	svc := makeService(t)
	require.False(t, svc.Exists())

	keys, err := svc.Create(testPassphrase, 3)
	require.NoError(t, err)
	defer keys.Destroy()
	require.True(t, svc.Exists())
	require.Equal(t, 3, keys.OneTimePreKeyCount())

	unlocked, err := svc.Unlock(testPassphrase)
	require.NoError(t, err)
	defer unlocked.Destroy()
	require.Equal(t, keys.Fingerprint(), unlocked.Fingerprint())
}

func TestCreate_RejectsWeakPassphrases(t *testing.T) {
	svc := makeService(t)

	for _, p := range []string{
		"",
		"short-A1!",
		"alllowercase1!aa",
		"ALLUPPERCASE1!AA",
		"NoDigitsHere!!aa",
		"NoSymbolsHere1aa",
	} {
		_, err := svc.Create(p, 1)
		require.ErrorIs(t, err, account.ErrWeakPassphrase, "passphrase %q", p)
	}
	require.False(t, svc.Exists())
}

func TestUnlock_WrongPassphrase(t *testing.T) {
	svc := makeService(t)
	keys, err := svc.Create(testPassphrase, 1)
	require.NoError(t, err)
	keys.Destroy()

	_, err = svc.Unlock("Wrong-Horse-Battery-7")
	require.True(t, failure.Is(err, failure.Decryption))
}

func TestUnlock_NoIdentity(t *testing.T) {
	svc := makeService(t)
	_, err := svc.Unlock(testPassphrase)
	require.True(t, failure.Is(err, failure.StateMissing))
}

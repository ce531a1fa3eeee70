package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ecliptix/internal/app"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := app.Load([]byte(`Username = "alice"`))
	require.NoError(t, err)

	require.NotEmpty(t, cfg.Home)
	require.Equal(t, "alice", cfg.Username)
	require.Equal(t, "http://127.0.0.1:8080", cfg.Relay.URL)
	require.Equal(t, ":8080", cfg.Relay.Listen)
	require.Equal(t, "NOTICE", cfg.Logging.Level)
	require.Zero(t, cfg.Channel.RotateEvery)
}

func TestLoad_ForcesLevelUppercase(t *testing.T) {
	cfg, err := app.Load([]byte("[Logging]\nLevel = \"debug\"\n"))
	require.NoError(t, err)
	require.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := app.Load([]byte("Bogus = 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "undecoded")
}

func TestLoad_RejectsBadLogLevel(t *testing.T) {
	_, err := app.Load([]byte("[Logging]\nLevel = \"LOUD\"\n"))
	require.Error(t, err)
}

func TestLoad_RejectsBadRelayURL(t *testing.T) {
	_, err := app.Load([]byte("[Relay]\nURL = \"ftp://relay.example\"\n"))
	require.Error(t, err)
}

func TestLoad_RejectsBadUsername(t *testing.T) {
	_, err := app.Load([]byte(`Username = "al ice"`))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), app.ConfigFileName)
	body := "Username = \"bob\"\n\n[Channel]\nRotateEvery = 25\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := app.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "bob", cfg.Username)
	require.Equal(t, uint64(25), cfg.Channel.RotateEvery)

	_, err = app.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

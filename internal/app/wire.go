package app

import (
	"fmt"
	"os"
	"path/filepath"

	"ecliptix/internal/domain"
	"ecliptix/internal/identity"
	"ecliptix/internal/log"
	"ecliptix/internal/relay"
	"ecliptix/internal/services/account"
	channelsvc "ecliptix/internal/services/channel"
	"ecliptix/internal/store"
)

// stateFileName is the bbolt database holding sealed channel snapshots.
const stateFileName = "channels.db"

// Wire bundles the stores, clients and services one endpoint runs on.
//
// NewWire builds everything that works without the identity passphrase;
// Unlock loads the identity and brings up the channel service on top.
type Wire struct {
	Config  *Config
	Backend *log.Backend

	Account *account.Service
	States  domain.StateStore
	Relay   domain.RelayClient

	Keys     *identity.Keys
	Channels domain.ChannelService
}

// NewWire constructs the dependency graph from cfg. The home directory is
// created when missing.
func NewWire(cfg *Config) (*Wire, error) {
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, fmt.Errorf("creating home directory: %w", err)
	}
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	states, err := store.OpenStateStore(filepath.Join(cfg.Home, stateFileName))
	if err != nil {
		return nil, err
	}
	return &Wire{
		Config:  cfg,
		Backend: backend,
		Account: account.New(store.NewKeyStore(cfg.Home)),
		States:  states,
		Relay:   relay.NewClient(cfg.Relay.URL),
	}, nil
}

// Unlock loads the identity under passphrase and starts the channel service.
func (w *Wire) Unlock(passphrase string) error {
	if w.Channels != nil {
		return nil
	}
	if w.Config.Username == "" {
		return fmt.Errorf("no username configured")
	}
	keys, err := w.Account.Unlock(passphrase)
	if err != nil {
		return err
	}
	svc, err := channelsvc.New(
		domain.Username(w.Config.Username),
		keys,
		w.States,
		w.Relay,
		w.Backend,
		w.Config.Channel.RotateEvery,
	)
	if err != nil {
		keys.Destroy()
		return err
	}
	w.Keys = keys
	w.Channels = svc
	return nil
}

// Close tears down everything Unlock and NewWire brought up.
func (w *Wire) Close() error {
	var firstErr error
	if w.Channels != nil {
		if err := w.Channels.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.Channels = nil
	}
	if w.Keys != nil {
		w.Keys.Destroy()
		w.Keys = nil
	}
	if w.States != nil {
		if err := w.States.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.States = nil
	}
	return firstErr
}

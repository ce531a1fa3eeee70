package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ecliptix/internal/app"
)

var (
	configFile string
	home       string
	relayURL   string
	username   string
	passphrase string

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:          "ecliptix",
		Short:        "Forward-secret secure channels over a development relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			wire, err = app.NewWire(cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default <home>/"+app.ConfigFileName+")")
	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.ecliptix)")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL")
	root.PersistentFlags().StringVar(&username, "username", "", "relay username")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity")

	root.AddCommand(initCmd(), fingerprintCmd(), establishCmd(), sendCmd(), recvCmd())
	return root.Execute()
}

// loadConfig reads the config file when one exists and applies flag
// overrides on top.
func loadConfig() (*app.Config, error) {
	cfg, err := readConfigFile()
	if err != nil {
		return nil, err
	}
	if home != "" {
		cfg.Home = home
	}
	if relayURL != "" {
		cfg.Relay.URL = relayURL
	}
	if username != "" {
		cfg.Username = username
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile() (*app.Config, error) {
	if configFile != "" {
		return app.LoadFile(configFile)
	}
	dir := home
	if dir == "" {
		ud, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(ud, ".ecliptix")
	}
	path := filepath.Join(dir, app.ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		// No config file; flags and defaults carry the day.
		return &app.Config{}, nil
	}
	return app.LoadFile(path)
}

// unlock loads the identity and starts the channel service for commands
// that need an established endpoint.
func unlock() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return wire.Unlock(passphrase)
}

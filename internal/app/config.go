package app

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultRelayURL    = "http://127.0.0.1:8080"
	defaultRelayListen = ":8080"
	defaultLogLevel    = "NOTICE"

	// ConfigFileName is the config file looked up inside the home directory
	// when no explicit path is given.
	ConfigFileName = "ecliptix.toml"
)

// Relay configures how this endpoint reaches the development relay, and
// where the relay daemon itself listens.
type Relay struct {
	// URL is the relay base URL used by the client.
	URL string

	// Listen is the address the relay daemon binds to.
	Listen string
}

func (rCfg *Relay) applyDefaults() {
	if rCfg.URL == "" {
		rCfg.URL = defaultRelayURL
	}
	if rCfg.Listen == "" {
		rCfg.Listen = defaultRelayListen
	}
}

func (rCfg *Relay) validate() error {
	u, err := url.Parse(rCfg.URL)
	if err != nil {
		return fmt.Errorf("config: Relay: URL '%v' is invalid: %v", rCfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: Relay: URL scheme '%v' is invalid", u.Scheme)
	}
	return nil
}

// Channel configures per-channel protocol behaviour.
type Channel struct {
	// RotateEvery is the number of sent messages between ratchet key
	// rotations. Zero selects the protocol default.
	RotateEvery uint64

	// OneTimePreKeys is how many one-time pre-keys a fresh identity
	// carries. Zero selects the protocol default.
	OneTimePreKeys int
}

func (cCfg *Channel) validate() error {
	if cCfg.OneTimePreKeys < 0 {
		return fmt.Errorf("config: Channel: OneTimePreKeys %d is invalid", cCfg.OneTimePreKeys)
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Config is the endpoint configuration.
type Config struct {
	// Home is the state directory holding the keystore, the channel state
	// database and, by default, the config file itself.
	Home string

	// Username is this endpoint's relay name.
	Username string

	Relay   Relay
	Channel Channel
	Logging Logging
}

// FixupAndValidate applies defaults to unset entries and validates the
// configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: resolving home directory: %v", err)
		}
		cfg.Home = filepath.Join(dir, ".ecliptix")
	}
	if strings.ContainsAny(cfg.Username, "/ ") {
		return fmt.Errorf("config: Username '%v' is invalid", cfg.Username)
	}
	cfg.Relay.applyDefaults()
	if err := cfg.Relay.validate(); err != nil {
		return err
	}
	if err := cfg.Channel.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

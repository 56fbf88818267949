package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents ~/.chatsync/config.toml.
type Config struct {
	// APIEndpoint is the base URL of the HTTP gateway.
	APIEndpoint string `toml:"api_endpoint"`
	// RealtimeEndpoint is the base URL of the realtime service. HTTP(S)
	// schemes are rewritten to WS(S) when dialing.
	RealtimeEndpoint string `toml:"realtime_endpoint"`
	// DataDir holds the local message archive and logs.
	DataDir string `toml:"data_dir"`
	// DefaultProfile names the profile used when no --profile flag is
	// given.
	DefaultProfile string `toml:"default_profile"`

	// AckTimeout bounds how long a sent message may stay pending before
	// it is marked failed.
	AckTimeout duration `toml:"ack_timeout"`
	// TypingIdleWindow drops a user from a typing set when no typing
	// signal arrived for this long.
	TypingIdleWindow duration `toml:"typing_idle_window"`

	// Reconnect backoff bounds.
	ReconnectBaseDelay   duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    duration `toml:"reconnect_max_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`

	// HistoryPageSize is the default page size for history loads.
	HistoryPageSize int `toml:"history_page_size"`
}

// duration lets TOML carry values like "15s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns a config with every tunable set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.DataDir = filepath.Join(home, ".chatsync")
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = duration(15 * time.Second)
	}
	if c.TypingIdleWindow == 0 {
		c.TypingIdleWindow = duration(10 * time.Second)
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = duration(time.Second)
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = duration(30 * time.Second)
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HistoryPageSize == 0 {
		c.HistoryPageSize = 50
	}
}

// AckTimeoutDuration returns the ack timeout as a time.Duration.
func (c *Config) AckTimeoutDuration() time.Duration { return time.Duration(c.AckTimeout) }

// TypingIdleDuration returns the typing idle window as a time.Duration.
func (c *Config) TypingIdleDuration() time.Duration { return time.Duration(c.TypingIdleWindow) }

// BackoffBase returns the reconnect base delay as a time.Duration.
func (c *Config) BackoffBase() time.Duration { return time.Duration(c.ReconnectBaseDelay) }

// BackoffMax returns the reconnect max delay as a time.Duration.
func (c *Config) BackoffMax() time.Duration { return time.Duration(c.ReconnectMaxDelay) }

// Load reads config from the given path and applies defaults for any
// missing field. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

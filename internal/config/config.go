package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"rtclient/internal/session"
)

// rawConfig is used for proper default handling of the bools that default
// to true
type rawConfig struct {
	Config
	AutoReconnectPtr   *bool `json:"autoReconnect" toml:"autoReconnect"`
	AutoResubscribePtr *bool `json:"autoResubscribe" toml:"autoResubscribe"`
}

// Load reads and parses the configuration file. The decoder is chosen by
// extension: .toml files are read as TOML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw rawConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg := &raw.Config
	cfg.AutoReconnect = DefaultAutoReconnect
	if raw.AutoReconnectPtr != nil {
		cfg.AutoReconnect = *raw.AutoReconnectPtr
	}
	cfg.AutoResubscribe = DefaultAutoResubscribe
	if raw.AutoResubscribePtr != nil {
		cfg.AutoResubscribe = *raw.AutoResubscribePtr
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Connect == "" {
		cfg.Connect = DefaultConnect
	}
	if cfg.OfflineMode == "" {
		cfg.OfflineMode = DefaultOfflineMode
	}
	if cfg.ReconnectionDelay == 0 {
		cfg.ReconnectionDelay = DefaultReconnectionDelay
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.QueueTTL == 0 {
		cfg.QueueTTL = DefaultQueueTTL
	}
	if cfg.QueueMaxSize == 0 {
		cfg.QueueMaxSize = DefaultQueueMaxSize
	}
	if cfg.ReplayInterval == 0 {
		cfg.ReplayInterval = DefaultReplayInterval
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	// offline mode auto turns every automatic behavior on
	if cfg.OfflineMode == ModeAuto {
		cfg.AutoQueue = true
		cfg.AutoReplay = true
		cfg.AutoReconnect = true
		cfg.AutoResubscribe = true
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.URL == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got '%s'", u.Scheme)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Connect != ModeAuto && cfg.Connect != ModeManual {
		return fmt.Errorf("connect must be 'auto' or 'manual'")
	}
	if cfg.OfflineMode != ModeAuto && cfg.OfflineMode != ModeManual {
		return fmt.Errorf("offlineMode must be 'auto' or 'manual'")
	}

	if cfg.ReconnectionDelay < 0 {
		return fmt.Errorf("reconnectionDelay must be non-negative")
	}
	if cfg.PingInterval < 0 {
		return fmt.Errorf("pingInterval must be non-negative")
	}
	if cfg.QueueTTL < 0 {
		return fmt.Errorf("queueTTL must be non-negative")
	}
	if cfg.QueueMaxSize < 0 {
		return fmt.Errorf("queueMaxSize must be non-negative")
	}
	if cfg.ReplayInterval < 0 {
		return fmt.Errorf("replayInterval must be non-negative")
	}
	if cfg.HistorySize < 0 {
		return fmt.Errorf("historySize must be non-negative")
	}

	if cfg.Login != nil {
		if cfg.Login.Strategy == "" {
			return fmt.Errorf("login.strategy is required when login is set")
		}
		if cfg.Login.ExpiresIn < 0 {
			return fmt.Errorf("login.expiresIn must be non-negative")
		}
	}

	if cfg.Plugins != nil && cfg.Plugins.Timeout < 0 {
		return fmt.Errorf("plugins.timeout must be non-negative")
	}

	return nil
}

// SessionOptions converts the configuration into session options
func (c *Config) SessionOptions() session.Options {
	opts := session.DefaultOptions()

	opts.Connect = session.ConnectAuto
	if c.Connect == ModeManual {
		opts.Connect = session.ConnectManual
	}
	opts.OfflineMode = session.OfflineManual
	if c.OfflineMode == ModeAuto {
		opts.OfflineMode = session.OfflineAuto
	}

	opts.AutoQueue = c.AutoQueue
	opts.AutoReplay = c.AutoReplay
	opts.AutoReconnect = c.AutoReconnect
	opts.AutoResubscribe = c.AutoResubscribe
	opts.ReconnectionDelay = c.GetReconnectionDelayDuration()
	opts.PingInterval = c.GetPingIntervalDuration()
	opts.QueueTTL = c.GetQueueTTLDuration()
	opts.QueueMaxSize = c.QueueMaxSize
	opts.ReplayInterval = c.GetReplayIntervalDuration()
	opts.HistorySize = c.HistorySize
	opts.DefaultIndex = c.DefaultIndex
	opts.Headers = c.Headers
	opts.Metadata = c.Metadata
	return opts
}

package config

import "time"

// Mode selects automatic or manual behavior
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Config represents the client configuration file
type Config struct {
	URL               string                 `json:"url" toml:"url"`
	LogLevel          string                 `json:"logLevel" toml:"logLevel"`
	Connect           Mode                   `json:"connect" toml:"connect"`
	OfflineMode       Mode                   `json:"offlineMode" toml:"offlineMode"`
	AutoQueue         bool                   `json:"autoQueue" toml:"autoQueue"`
	AutoReplay        bool                   `json:"autoReplay" toml:"autoReplay"`
	AutoReconnect     bool                   `json:"-" toml:"-"`
	AutoResubscribe   bool                   `json:"-" toml:"-"`
	ReconnectionDelay int                    `json:"reconnectionDelay" toml:"reconnectionDelay"` // ms
	PingInterval      int                    `json:"pingInterval" toml:"pingInterval"`           // ms
	QueueTTL          int                    `json:"queueTTL" toml:"queueTTL"`                   // ms - age after which queued requests are discarded
	QueueMaxSize      int                    `json:"queueMaxSize" toml:"queueMaxSize"`
	ReplayInterval    int                    `json:"replayInterval" toml:"replayInterval"` // ms - delay between replayed requests
	HistorySize       int                    `json:"historySize" toml:"historySize"`
	DefaultIndex      string                 `json:"defaultIndex" toml:"defaultIndex"`
	Headers           map[string]interface{} `json:"headers" toml:"headers"`
	Metadata          map[string]interface{} `json:"metadata" toml:"metadata"`
	MetricsAddr       string                 `json:"metricsAddr" toml:"metricsAddr"`
	Login             *LoginConfig           `json:"login,omitempty" toml:"login"`
	Plugins           *PluginConfig          `json:"plugins,omitempty" toml:"plugins"`
}

// LoginConfig holds the credentials used to authenticate after connecting
type LoginConfig struct {
	Strategy    string                 `json:"strategy" toml:"strategy"`
	Credentials map[string]interface{} `json:"credentials" toml:"credentials"`
	ExpiresIn   int                    `json:"expiresIn" toml:"expiresIn"` // ms, 0 uses the server default
}

// PluginConfig represents plugin configuration
type PluginConfig struct {
	Enabled   bool   `json:"enabled" toml:"enabled"`
	Directory string `json:"directory" toml:"directory"` // path to plugins directory
	Timeout   int    `json:"timeout" toml:"timeout"`     // execution timeout in milliseconds
}

// Default values
const (
	DefaultLogLevel          = "info"
	DefaultConnect           = ModeAuto
	DefaultOfflineMode       = ModeManual
	DefaultAutoReconnect     = true
	DefaultAutoResubscribe   = true
	DefaultReconnectionDelay = 1000   // ms
	DefaultPingInterval      = 10000  // ms
	DefaultQueueTTL          = 120000 // ms
	DefaultQueueMaxSize      = 500
	DefaultReplayInterval    = 10 // ms
	DefaultHistorySize       = 10000
	DefaultPluginDirectory   = "./plugins"
	DefaultPluginTimeout     = 100 // ms
)

// GetReconnectionDelayDuration returns reconnection delay as time.Duration
func (c *Config) GetReconnectionDelayDuration() time.Duration {
	return time.Duration(c.ReconnectionDelay) * time.Millisecond
}

// GetPingIntervalDuration returns ping interval as time.Duration
func (c *Config) GetPingIntervalDuration() time.Duration {
	return time.Duration(c.PingInterval) * time.Millisecond
}

// GetQueueTTLDuration returns queue TTL as time.Duration
func (c *Config) GetQueueTTLDuration() time.Duration {
	return time.Duration(c.QueueTTL) * time.Millisecond
}

// GetReplayIntervalDuration returns replay interval as time.Duration
func (c *Config) GetReplayIntervalDuration() time.Duration {
	return time.Duration(c.ReplayInterval) * time.Millisecond
}

// GetExpiresInDuration returns login token lifetime as time.Duration
func (l *LoginConfig) GetExpiresInDuration() time.Duration {
	return time.Duration(l.ExpiresIn) * time.Millisecond
}

// HasLogin returns true if login credentials are configured
func (c *Config) HasLogin() bool {
	return c.Login != nil && c.Login.Strategy != ""
}

// IsPluginsEnabled returns true if plugins are configured and enabled
func (c *Config) IsPluginsEnabled() bool {
	return c.Plugins != nil && c.Plugins.Enabled
}

// GetPluginDirectory returns the plugins directory path
func (c *Config) GetPluginDirectory() string {
	if c.Plugins == nil || c.Plugins.Directory == "" {
		return DefaultPluginDirectory
	}
	return c.Plugins.Directory
}

// GetPluginTimeoutDuration returns plugin timeout as time.Duration
func (c *Config) GetPluginTimeoutDuration() time.Duration {
	if c.Plugins == nil || c.Plugins.Timeout == 0 {
		return time.Duration(DefaultPluginTimeout) * time.Millisecond
	}
	return time.Duration(c.Plugins.Timeout) * time.Millisecond
}

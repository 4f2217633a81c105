// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Identity      IdentityConfig      `yaml:"identity"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// IdentityConfig holds the external identity provider configuration.
// Credentials presented at the websocket handshake are verified against the
// provider's JWKS endpoint.
type IdentityConfig struct {
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// NotificationsConfig holds the push notification bridge configuration
type NotificationsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// SessionConfig holds per-connection tuning for the real-time session layer
type SessionConfig struct {
	WriteTimeout time.Duration `yaml:"-"`
	PingInterval time.Duration `yaml:"-"`
	ReadDeadline time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	WriteTimeoutRaw string `yaml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval"`
	ReadDeadlineRaw string `yaml:"read_deadline"`

	// ReadLimit is the maximum inbound frame size in bytes
	ReadLimit int64 `yaml:"read_limit"`
	// SendBuffer is the per-connection outbound event buffer
	SendBuffer int `yaml:"send_buffer"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves a field unset.
const (
	DefaultHTTPAddr      = ":8077"
	DefaultWriteTimeout  = 10 * time.Second
	DefaultPingInterval  = 25 * time.Second
	DefaultReadDeadline  = 90 * time.Second
	DefaultReadLimit     = 32 << 10
	DefaultSendBuffer    = 64
	DefaultNotifyTimeout = 5 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes. Split out from Load so tests and the
// init command can exercise parsing without touching the filesystem.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = DefaultWriteTimeout
	}
	if c.Session.PingInterval == 0 {
		c.Session.PingInterval = DefaultPingInterval
	}
	if c.Session.ReadDeadline == 0 {
		c.Session.ReadDeadline = DefaultReadDeadline
	}
	if c.Session.ReadLimit == 0 {
		c.Session.ReadLimit = DefaultReadLimit
	}
	if c.Session.SendBuffer == 0 {
		c.Session.SendBuffer = DefaultSendBuffer
	}
	if c.Notifications.Timeout == 0 {
		c.Notifications.Timeout = DefaultNotifyTimeout
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Identity.JWKSURL == "" {
		return fmt.Errorf("identity.jwks_url is required")
	}
	if c.Identity.Issuer == "" {
		return fmt.Errorf("identity.issuer is required")
	}

	if c.Notifications.Enabled && c.Notifications.Endpoint == "" {
		return fmt.Errorf("notifications.endpoint is required when notifications are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session.write_timeout", cfg.Session.WriteTimeoutRaw, &cfg.Session.WriteTimeout},
		{"session.ping_interval", cfg.Session.PingIntervalRaw, &cfg.Session.PingInterval},
		{"session.read_deadline", cfg.Session.ReadDeadlineRaw, &cfg.Session.ReadDeadline},
		{"notifications.timeout", cfg.Notifications.TimeoutRaw, &cfg.Notifications.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

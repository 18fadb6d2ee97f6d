// Package config provides configuration parsing and validation for the
// Loxone client.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete client configuration.
type Config struct {
	Miniserver MiniserverConfig `yaml:"miniserver"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
}

// MiniserverConfig identifies and authenticates against a Miniserver.
type MiniserverConfig struct {
	// URL is the remotecontrol websocket endpoint, e.g. "ws://192.168.1.77/ws".
	URL string `yaml:"url"`

	// Username and Password authenticate a fresh token request. Save writes
	// Password to disk with the rest of the config; Redacted and String
	// blank it for display.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Cert is the Miniserver's public-key certificate PEM, used for the
	// key-exchange handshake. CertPath, if set, is read instead.
	Cert     string `yaml:"cert_pem"`
	CertPath string `yaml:"cert_path"`

	// Token is a previously issued JWT; when set and unexpired the CLI
	// authenticates with it instead of the password. Nothing in this module
	// writes a newly issued token back into the config.
	Token          string    `yaml:"token"`
	TokenExpiresAt time.Time `yaml:"token_expires_at"`
}

// GetCertPEM returns the Miniserver certificate PEM, reading from CertPath
// if Cert itself is empty.
func (m *MiniserverConfig) GetCertPEM() ([]byte, error) {
	if m.Cert != "" {
		return []byte(m.Cert), nil
	}
	if m.CertPath != "" {
		return os.ReadFile(m.CertPath)
	}
	return nil, nil
}

// HasToken reports whether a non-expired token is available.
func (m *MiniserverConfig) HasToken() bool {
	if m.Token == "" {
		return false
	}
	return m.TokenExpiresAt.IsZero() || time.Now().Before(m.TokenExpiresAt)
}

// LoggingConfig controls the client's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus metrics preferences. The CLI does not read
// it: the metrics endpoint is served only when --metrics-addr is given.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// DispatchConfig tunes the dispatcher's internal queues and timers.
type DispatchConfig struct {
	// EventQueueSize bounds the buffered channel the dispatcher delivers
	// decoded events through.
	EventQueueSize int `yaml:"event_queue_size"`

	// CommandTimeout bounds how long a Client call waits for its reply;
	// when it elapses the call fails with ErrTransport.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// InitialStateIdleWindow bounds how long EnableStatusUpdate waits for
	// the Miniserver's initial burst of state (it ends early on the first
	// KeepAlive, whichever comes first).
	InitialStateIdleWindow time.Duration `yaml:"initial_state_idle_window"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Miniserver: MiniserverConfig{
			URL: "ws://loxone.local/ws",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Dispatch: DispatchConfig{
			EventQueueSize:         1024,
			CommandTimeout:         10 * time.Second,
			InitialStateIdleWindow: 500 * time.Millisecond,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Save writes the config to path as YAML, atomically via a temp file and
// rename so a crash mid-write never leaves a truncated config behind.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize config: %w", err)
	}
	return nil
}

// Parse parses configuration from YAML bytes, expanding environment
// variable references and filling in defaults for anything unset.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// Validate checks the config for internal consistency.
func (c *Config) Validate() error {
	if c.Miniserver.URL == "" {
		return fmt.Errorf("miniserver.url is required")
	}
	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	if !isValidLogFormat(c.Logging.Format) {
		return fmt.Errorf("invalid logging.format: %q", c.Logging.Format)
	}
	if c.Dispatch.EventQueueSize <= 0 {
		return fmt.Errorf("dispatch.event_queue_size must be positive")
	}
	if c.Dispatch.CommandTimeout <= 0 {
		return fmt.Errorf("dispatch.command_timeout must be positive")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with sensitive values blanked out,
// safe to log or display.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	if redacted.Miniserver.Password != "" {
		redacted.Miniserver.Password = redactedValue
	}
	if redacted.Miniserver.Token != "" {
		redacted.Miniserver.Token = redactedValue
	}
	return redacted
}

// String returns a redacted YAML representation, safe to log.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// MaxInstanceNameLength is the maximum length for an instance name (DNS-compatible)
const MaxInstanceNameLength = 63

// InstanceNamePattern matches valid instance names: lowercase alphanumeric,
// hyphens allowed but not at start/end. The name prefixes every Redis key.
var InstanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateInstanceName checks if an instance name is valid according to DNS naming rules.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceNameLength)
	}
	if !InstanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Config represents the top-level agora.yml configuration
type Config struct {
	Version       string              `yaml:"version"`
	Instance      string              `yaml:"instance"`
	Store         StoreConfig         `yaml:"store"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Events        EventsConfig        `yaml:"events"`
}

// StoreConfig selects and configures the record store adapter
type StoreConfig struct {
	Driver     string        `yaml:"driver"` // "redis" or "sqlite"
	RedisURL   string        `yaml:"redis_url,omitempty"`
	SQLitePath string        `yaml:"sqlite_path,omitempty"`
	OpTimeout  time.Duration `yaml:"op_timeout"`
}

// ServerConfig configures the HTTP tool surface
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestsPerMin int           `yaml:"requests_per_min"` // 0 disables rate limiting
	Burst          int           `yaml:"burst"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// LoggingConfig configures the slog logger
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout, stderr or a file path
}

// TracingConfig configures OpenTelemetry
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or noop
}

// CollaboratorsConfig bounds calls to the consensus and insight collaborators
type CollaboratorsConfig struct {
	Timeout                   time.Duration `yaml:"timeout"`
	DefaultConsensusThreshold float64       `yaml:"default_consensus_threshold"`
	Breaker                   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the collaborator circuit breaker
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before opening
	OpenTimeout time.Duration `yaml:"open_timeout"` // time spent open before half-open
	Interval    time.Duration `yaml:"interval"`     // closed-state counter reset period
}

// DiscoveryConfig configures agent discovery
type DiscoveryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
}

// EventsConfig configures the event bus
type EventsConfig struct {
	Relay *bool `yaml:"relay,omitempty"` // forward events to Redis Pub/Sub (default true)
}

// RelayEnabled reports whether events should be relayed out of process.
func (e EventsConfig) RelayEnabled() bool {
	return e.Relay == nil || *e.Relay
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Version: "1.0"}
	_ = c.Validate()
	return c
}

// Validate performs strict validation on the configuration and fills in defaults
// for anything left unset.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}
	if c.Instance == "" {
		c.Instance = "default"
	}
	if err := ValidateInstanceName(c.Instance); err != nil {
		return err
	}

	// Store
	if c.Store.Driver == "" {
		c.Store.Driver = DriverRedis
	}
	switch c.Store.Driver {
	case DriverRedis:
		if c.Store.RedisURL == "" {
			c.Store.RedisURL = "redis://localhost:6379/0"
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "agora.db"
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (must be 'redis' or 'sqlite')", c.Store.Driver)
	}
	if c.Store.OpTimeout == 0 {
		c.Store.OpTimeout = 5 * time.Second
	}
	if c.Store.OpTimeout < 0 {
		return fmt.Errorf("store.op_timeout must be positive, got %s", c.Store.OpTimeout)
	}

	// Server
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestsPerMin < 0 {
		return fmt.Errorf("server.requests_per_min must be >= 0 (0 = unlimited), got %d", c.Server.RequestsPerMin)
	}
	if c.Server.RequestsPerMin == 0 && c.Server.Burst == 0 {
		c.Server.RequestsPerMin = 600
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 60
	}
	if c.Server.Burst < 0 {
		return fmt.Errorf("server.burst must be >= 0, got %d", c.Server.Burst)
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging.format: %s (must be 'json' or 'text')", c.Logging.Format)
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stderr"
	}

	// Tracing
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "noop" {
		return fmt.Errorf("invalid tracing.exporter: %s (must be 'stdout' or 'noop')", c.Tracing.Exporter)
	}

	// Collaborators
	if c.Collaborators.Timeout == 0 {
		c.Collaborators.Timeout = 30 * time.Second
	}
	if c.Collaborators.DefaultConsensusThreshold == 0 {
		c.Collaborators.DefaultConsensusThreshold = 0.66
	}
	if t := c.Collaborators.DefaultConsensusThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("collaborators.default_consensus_threshold must be in (0, 1], got %v", t)
	}
	if c.Collaborators.Breaker.MaxFailures == 0 {
		c.Collaborators.Breaker.MaxFailures = 5
	}
	if c.Collaborators.Breaker.OpenTimeout == 0 {
		c.Collaborators.Breaker.OpenTimeout = 30 * time.Second
	}
	if c.Collaborators.Breaker.Interval == 0 {
		c.Collaborators.Breaker.Interval = 60 * time.Second
	}

	// Discovery
	if c.Discovery.DefaultLimit == 0 {
		c.Discovery.DefaultLimit = 50
	}
	if c.Discovery.DefaultLimit < 0 {
		return fmt.Errorf("discovery.default_limit must be positive, got %d", c.Discovery.DefaultLimit)
	}

	return nil
}

// ApplyEnv overrides file settings from the environment.
// Recognised variables: AGORA_INSTANCE_NAME, REDIS_URL, AGORA_LISTEN_ADDR, AGORA_STORE_DRIVER.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("AGORA_INSTANCE_NAME"); v != "" {
		c.Instance = v
	}
	if v := getenv("AGORA_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := getenv("AGORA_LISTEN_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// Load reads and validates agora.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Resolve loads path when set (falling back to defaults otherwise), applies
// environment overrides and re-validates the result.
func Resolve(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.ApplyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

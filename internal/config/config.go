// ABOUTME: Configuration loading and parsing for coven-coordinator
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-coordinator configuration
type Config struct {
	Coordination CoordinationConfig `yaml:"coordination" toml:"coordination"`
	Health       HealthConfig       `yaml:"health" toml:"health"`
	Outbox       OutboxConfig       `yaml:"outbox" toml:"outbox"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" toml:"telemetry"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Workers      []WorkerConfig     `yaml:"workers" toml:"workers"`
}

// CoordinationConfig holds dispatch and retry settings
type CoordinationConfig struct {
	DefaultTimeout time.Duration `yaml:"-" toml:"-"`
	RetryDelay     time.Duration `yaml:"-" toml:"-"`
	MaxRetries     int           `yaml:"max_retries" toml:"max_retries"`
	// MaxParallel bounds concurrent dispatches in a parallel coordination; 0 means unbounded.
	MaxParallel int `yaml:"max_parallel" toml:"max_parallel"`

	// Raw string values for unmarshaling
	DefaultTimeoutRaw string `yaml:"default_timeout" toml:"default_timeout"`
	RetryDelayRaw     string `yaml:"retry_delay" toml:"retry_delay"`
}

// HealthConfig holds health monitor timing
type HealthConfig struct {
	Interval         time.Duration `yaml:"-" toml:"-"`
	StaleAfter       time.Duration `yaml:"-" toml:"-"`
	AlertSuppression time.Duration `yaml:"-" toml:"-"`
	HeartbeatTimeout time.Duration `yaml:"-" toml:"-"`

	IntervalRaw         string `yaml:"interval" toml:"interval"`
	StaleAfterRaw       string `yaml:"stale_after" toml:"stale_after"`
	AlertSuppressionRaw string `yaml:"alert_suppression" toml:"alert_suppression"`
	HeartbeatTimeoutRaw string `yaml:"heartbeat_timeout" toml:"heartbeat_timeout"`
}

// OutboxConfig sizes the side-channel queue
type OutboxConfig struct {
	QueueSize    int           `yaml:"queue_size" toml:"queue_size"`
	Workers      int           `yaml:"workers" toml:"workers"`
	WriteTimeout time.Duration `yaml:"-" toml:"-"`

	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
}

// DatabaseConfig holds fact log configuration. An empty path disables the fact log.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// TelemetryConfig holds OpenTelemetry export settings. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" toml:"insecure"`
	ServiceName  string `yaml:"service_name" toml:"service_name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// WorkerKinds lists the built-in worker implementations.
var WorkerKinds = []string{"echo", "delay", "flaky", "planner"}

// WorkerConfig describes one built-in worker to register at startup
type WorkerConfig struct {
	ID        string         `yaml:"id" toml:"id"`
	Kind      string         `yaml:"kind" toml:"kind"`
	Type      string         `yaml:"type" toml:"type"`
	Prefix    string         `yaml:"prefix" toml:"prefix"`
	FailTimes int            `yaml:"fail_times" toml:"fail_times"`
	Delay     time.Duration  `yaml:"-" toml:"-"`
	Options   map[string]any `yaml:"options" toml:"options"`

	DelayRaw string `yaml:"delay" toml:"delay"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{
		Coordination: CoordinationConfig{
			MaxRetries:        3,
			DefaultTimeoutRaw: "5m",
			RetryDelayRaw:     "1s",
		},
		Health: HealthConfig{
			IntervalRaw:         "30s",
			StaleAfterRaw:       "10m",
			AlertSuppressionRaw: "5m",
			HeartbeatTimeoutRaw: "2m",
		},
		Outbox: OutboxConfig{
			QueueSize:       1024,
			Workers:         2,
			WriteTimeoutRaw: "5s",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "coven-coordinator",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	// The defaults above always parse.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// Parse decodes data in the given format ("yaml" or "toml") over the defaults.
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Coordination.MaxRetries < 0 {
		return fmt.Errorf("coordination.max_retries must be >= 0")
	}
	if c.Coordination.MaxParallel < 0 {
		return fmt.Errorf("coordination.max_parallel must be >= 0")
	}
	if c.Coordination.DefaultTimeout <= 0 {
		return fmt.Errorf("coordination.default_timeout must be positive")
	}
	if c.Coordination.RetryDelay < 0 {
		return fmt.Errorf("coordination.retry_delay must be >= 0")
	}

	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	if c.Health.StaleAfter <= 0 {
		return fmt.Errorf("health.stale_after must be positive")
	}
	if c.Health.HeartbeatTimeout <= 0 {
		return fmt.Errorf("health.heartbeat_timeout must be positive")
	}

	if c.Outbox.QueueSize <= 0 {
		return fmt.Errorf("outbox.queue_size must be positive")
	}
	if c.Outbox.Workers <= 0 {
		return fmt.Errorf("outbox.workers must be positive")
	}

	if c.Database.Path != "" && c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Workers))
	for i, w := range c.Workers {
		if w.ID == "" {
			return fmt.Errorf("workers[%d].id is required", i)
		}
		if seen[w.ID] {
			return fmt.Errorf("workers[%d].id %q is duplicated", i, w.ID)
		}
		seen[w.ID] = true
		if !slices.Contains(WorkerKinds, w.Kind) {
			return fmt.Errorf("workers[%d].kind %q is not one of %s", i, w.Kind, strings.Join(WorkerKinds, ", "))
		}
		if w.FailTimes < 0 {
			return fmt.Errorf("workers[%d].fail_times must be >= 0", i)
		}
	}

	return nil
}

type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []durationField{
		{"coordination.default_timeout", cfg.Coordination.DefaultTimeoutRaw, &cfg.Coordination.DefaultTimeout},
		{"coordination.retry_delay", cfg.Coordination.RetryDelayRaw, &cfg.Coordination.RetryDelay},
		{"health.interval", cfg.Health.IntervalRaw, &cfg.Health.Interval},
		{"health.stale_after", cfg.Health.StaleAfterRaw, &cfg.Health.StaleAfter},
		{"health.alert_suppression", cfg.Health.AlertSuppressionRaw, &cfg.Health.AlertSuppression},
		{"health.heartbeat_timeout", cfg.Health.HeartbeatTimeoutRaw, &cfg.Health.HeartbeatTimeout},
		{"outbox.write_timeout", cfg.Outbox.WriteTimeoutRaw, &cfg.Outbox.WriteTimeout},
	}
	for i := range cfg.Workers {
		w := &cfg.Workers[i]
		fields = append(fields, durationField{fmt.Sprintf("workers[%d].delay", i), w.DelayRaw, &w.Delay})
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

// DefaultYAML is the file written by `coven-coordinator init`.
const DefaultYAML = `# coven-coordinator configuration

coordination:
  default_timeout: "5m"
  max_retries: 3
  retry_delay: "1s"
  max_parallel: 0

health:
  interval: "30s"
  stale_after: "10m"
  alert_suppression: "5m"
  heartbeat_timeout: "2m"

outbox:
  queue_size: 1024
  workers: 2
  write_timeout: "5s"

database:
  driver: "sqlite"
  path: "${HOME}/.local/share/coven/coordinator.db"

telemetry:
  otlp_endpoint: "${OTEL_EXPORTER_OTLP_ENDPOINT}"
  insecure: true
  service_name: "coven-coordinator"

logging:
  level: "info"
  format: "text"

workers:
  - id: "echo-1"
    kind: "echo"
    type: "general"
  - id: "researcher-1"
    kind: "delay"
    type: "research"
    delay: "200ms"
  - id: "builder-1"
    kind: "flaky"
    type: "development"
    fail_times: 1
  - id: "planner-1"
    kind: "planner"
    type: "planning"
`

// ConfigEnvVar names the environment variable that overrides the config path.
const ConfigEnvVar = "COVEN_COORDINATOR_CONFIG"

// DefaultPath returns ~/.config/coven/coordinator.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "coordinator.yaml"
	}
	return filepath.Join(home, ".config", "coven", "coordinator.yaml")
}

// ResolvePath picks the config file to load: the explicit path if set, then
// $COVEN_COORDINATOR_CONFIG, then ./coordinator.yaml or ./coordinator.toml,
// then DefaultPath. It returns "" when none of the candidates exist, in which
// case the caller runs on Default().
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(ConfigEnvVar); p != "" {
		return p
	}
	for _, p := range []string{"coordinator.yaml", "coordinator.toml", DefaultPath()} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

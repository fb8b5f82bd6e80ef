// Package config loads and validates the vaultsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSyncInterval   = 5 * time.Minute
	defaultSyncTimeout    = 15 * time.Second
	defaultMaxAttempts    = 3
	defaultProbeInterval  = 30 * time.Second
	defaultLogMaxSizeMB   = 10
	defaultLogMaxBackups  = 3
	minSyncInterval       = 10 * time.Second
	maxSyncInterval       = time.Hour
	minProbeInterval      = time.Second
	maxAttemptsUpperBound = 10
)

// DefaultListenAddr is where the bundled collector listens when
// server.listen is unset.
const DefaultListenAddr = "127.0.0.1:8787"

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DBPath is the local vault database. Defaults to
	// ~/.local/share/vaultsync/vault.db. A leading "~/" is expanded.
	DBPath string `yaml:"db_path,omitempty"`

	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity,omitempty"`
	Log          LogConfig          `yaml:"log,omitempty"`
	Server       ServerConfig       `yaml:"server,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// SyncConfig controls delivery of the sync queue.
type SyncConfig struct {
	// Endpoint is the collector URL batches are POSTed to
	// (e.g. "http://127.0.0.1:8787/api/sync").
	Endpoint string `yaml:"endpoint"`

	// Interval is how often the queue is flushed while online.
	// Minimum 10s, maximum 1h. Defaults to 5m.
	Interval time.Duration `yaml:"interval,omitempty"`

	// Timeout bounds a single HTTP attempt. Defaults to 15s.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxAttempts is the number of tries per batch, 1 to 10. Defaults to 3.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// AtomicOutbox writes each mutation and its queue entry in one
	// transaction. When false a failed queue write is logged and the
	// mutation kept.
	AtomicOutbox bool `yaml:"atomic_outbox,omitempty"`
}

// ConnectivityConfig controls online/offline detection.
type ConnectivityConfig struct {
	// ProbeURL receives a HEAD request on every check. Defaults to the
	// sync endpoint.
	ProbeURL string `yaml:"probe_url,omitempty"`

	// Interval between probes. Minimum 1s. Defaults to 30s.
	Interval time.Duration `yaml:"interval,omitempty"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level,omitempty"`

	// File, when set, receives logs instead of stderr and is rotated by
	// size.
	File string `yaml:"file,omitempty"`

	MaxSizeMB  int `yaml:"max_size_mb,omitempty"`
	MaxBackups int `yaml:"max_backups,omitempty"`
}

// ServerConfig configures the bundled stub collector.
type ServerConfig struct {
	// Listen is the host:port the collector binds. Defaults to 127.0.0.1:8787.
	Listen string `yaml:"listen,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "vaultsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/vaultsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vaultsync", "config.yaml"), nil
}

// DefaultDBPath returns the default vault database path:
// ~/.local/share/vaultsync/vault.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "vaultsync", "vault.db"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Write validates the configuration and saves it as YAML at path, creating
// the parent directory if needed.
func (c *Config) Write(path string) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// validate checks that all required fields are present and well-formed and
// fills in defaults.
func (c *Config) validate() error {
	if err := validateURL("sync.endpoint", c.Sync.Endpoint); err != nil {
		return err
	}

	if c.Sync.Interval == 0 {
		c.Sync.Interval = defaultSyncInterval
	}
	if c.Sync.Interval < minSyncInterval {
		return fmt.Errorf("sync.interval %v is too short (minimum %v)", c.Sync.Interval, minSyncInterval)
	}
	if c.Sync.Interval > maxSyncInterval {
		return fmt.Errorf("sync.interval %v is too long (maximum %v)", c.Sync.Interval, maxSyncInterval)
	}

	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = defaultSyncTimeout
	}
	if c.Sync.Timeout < 0 {
		return fmt.Errorf("sync.timeout %v must be positive", c.Sync.Timeout)
	}

	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = defaultMaxAttempts
	}
	if c.Sync.MaxAttempts < 1 || c.Sync.MaxAttempts > maxAttemptsUpperBound {
		return fmt.Errorf("sync.max_attempts %d must be between 1 and %d", c.Sync.MaxAttempts, maxAttemptsUpperBound)
	}

	if c.Connectivity.ProbeURL == "" {
		c.Connectivity.ProbeURL = c.Sync.Endpoint
	}
	if err := validateURL("connectivity.probe_url", c.Connectivity.ProbeURL); err != nil {
		return err
	}
	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = defaultProbeInterval
	}
	if c.Connectivity.Interval < minProbeInterval {
		return fmt.Errorf("connectivity.interval %v is too short (minimum %v)", c.Connectivity.Interval, minProbeInterval)
	}

	if c.DBPath == "" {
		p, err := DefaultDBPath()
		if err != nil {
			return err
		}
		c.DBPath = p
	}
	if rest, ok := strings.CutPrefix(c.DBPath, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("expanding db_path: %w", err)
		}
		c.DBPath = filepath.Join(home, rest)
	}

	switch strings.ToLower(c.Log.Level) {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = defaultLogMaxBackups
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_size_mb and log.max_backups must not be negative")
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddr
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func validateURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be a valid http or https URL", key, raw)
	}
	return nil
}

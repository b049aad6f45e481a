package config

import (
	"fmt"
	"time"

	"github.com/grovetools/trail/pkg/paths"
	"github.com/mitchellh/mapstructure"
)

//go:generate go run ../tools/schema-generator/

// Store drivers understood by the daemon.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Defaults applied by SetDefaults.
const (
	DefaultRequestTimeout  = 100 * time.Millisecond
	DefaultRequestCapacity = 5
	DefaultHistoryLimit    = 5
	DefaultCacheSize       = 128
)

// StoreConfig selects and configures the snapshot/diff store.
type StoreConfig struct {
	Driver    string `yaml:"driver,omitempty" toml:"driver,omitempty" json:"driver,omitempty" jsonschema:"enum=sqlite,enum=memory,description=Storage backend for snapshots and diffs"`
	Path      string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty" jsonschema:"description=Database file for the sqlite driver"`
	CacheSize int    `yaml:"cache_size,omitempty" toml:"cache_size,omitempty" json:"cache_size,omitempty" jsonschema:"minimum=0,description=Number of latest snapshots kept in memory (0 disables the cache)"`
}

// DaemonConfig holds the settings of the background capture daemon.
type DaemonConfig struct {
	Socket          string `yaml:"socket,omitempty" toml:"socket,omitempty" json:"socket,omitempty" jsonschema:"description=Unix socket the daemon listens on"`
	RequestTimeout  string `yaml:"request_timeout,omitempty" toml:"request_timeout,omitempty" json:"request_timeout,omitempty" jsonschema:"description=How long a query waits for the engine before answering TIMEOUT (e.g. 100ms)"`
	RequestCapacity int    `yaml:"request_capacity,omitempty" toml:"request_capacity,omitempty" json:"request_capacity,omitempty" jsonschema:"minimum=0,description=Maximum number of queries in flight at once"`
	HistoryLimit    int    `yaml:"history_limit,omitempty" toml:"history_limit,omitempty" json:"history_limit,omitempty" jsonschema:"minimum=0,maximum=100,description=Number of diffs returned when a file is selected"`
	Debounce        string `yaml:"debounce,omitempty" toml:"debounce,omitempty" json:"debounce,omitempty" jsonschema:"description=Window for coalescing file-system notifications per path (0 disables)"`
}

// Config is the root of trail.yml / trail.toml.
type Config struct {
	Version string        `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty" jsonschema:"description=Configuration version (e.g. 1.0)"`
	Watch   []string      `yaml:"watch,omitempty" toml:"watch,omitempty" json:"watch,omitempty" jsonschema:"description=Files the daemon watches on startup"`
	Ignore  []string      `yaml:"ignore,omitempty" toml:"ignore,omitempty" json:"ignore,omitempty" jsonschema:"description=Patterns (dockerignore syntax) for paths that are never watched"`
	Store   *StoreConfig  `yaml:"store,omitempty" toml:"store,omitempty" json:"store,omitempty" jsonschema:"description=Snapshot store settings"`
	Daemon  *DaemonConfig `yaml:"daemon,omitempty" toml:"daemon,omitempty" json:"daemon,omitempty" jsonschema:"description=Daemon settings"`

	// Extensions captures all other top-level keys (e.g. logging).
	Extensions map[string]interface{} `yaml:",inline" toml:"-" json:"-" jsonschema:"-"`
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Path == "" && c.Store.Driver == DriverSQLite {
		c.Store.Path = paths.DatabasePath()
	}
	if c.Store.CacheSize == 0 {
		c.Store.CacheSize = DefaultCacheSize
	}

	if c.Daemon == nil {
		c.Daemon = &DaemonConfig{}
	}
	if c.Daemon.Socket == "" {
		c.Daemon.Socket = paths.SocketPath()
	}
	if c.Daemon.RequestTimeout == "" {
		c.Daemon.RequestTimeout = DefaultRequestTimeout.String()
	}
	if c.Daemon.RequestCapacity == 0 {
		c.Daemon.RequestCapacity = DefaultRequestCapacity
	}
	if c.Daemon.HistoryLimit == 0 {
		c.Daemon.HistoryLimit = DefaultHistoryLimit
	}
	if c.Daemon.Debounce == "" {
		c.Daemon.Debounce = "0s"
	}
}

// Timeout returns the parsed request timeout, falling back to the default.
func (d *DaemonConfig) Timeout() time.Duration {
	if d == nil {
		return DefaultRequestTimeout
	}
	v, err := time.ParseDuration(d.RequestTimeout)
	if err != nil || v <= 0 {
		return DefaultRequestTimeout
	}
	return v
}

// DebounceWindow returns the parsed debounce window; zero disables debouncing.
func (d *DaemonConfig) DebounceWindow() time.Duration {
	if d == nil {
		return 0
	}
	v, err := time.ParseDuration(d.Debounce)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded trail.yml into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}

// ConfigSource identifies the origin of a configuration layer.
type ConfigSource string

const (
	SourceDefault  ConfigSource = "default"
	SourceGlobal   ConfigSource = "global"
	SourceProject  ConfigSource = "project"
	SourceOverride ConfigSource = "override"
)

// OverrideSource holds a raw configuration from an override file and its path.
type OverrideSource struct {
	Path   string
	Config *Config
}

// LayeredConfig holds the raw configuration from each source file,
// as well as the final merged configuration, for analysis purposes.
type LayeredConfig struct {
	Global    *Config
	Project   *Config
	Overrides []OverrideSource
	Final     *Config
	FilePaths map[ConfigSource]string
}

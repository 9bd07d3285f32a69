package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/dittomds/pkg/server"
)

// Config represents the complete DittoMDS configuration.
//
// This structure captures all configurable aspects of the metadata daemon:
//   - Logging configuration
//   - Request server settings (listener, workers, timeouts, rate limits)
//   - Prometheus metrics endpoint
//   - Attribute store selection and configuration (store-specific)
//   - Extended attribute policy (features granted, ACL limits, lock waits)
//   - Identity mapping nodemaps
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOMDS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. The Config
// struct contains type-specific sections (store.memory, store.badger,
// store.s3) and only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the request listener.
	// Uses the server.Config type directly to avoid duplication.
	Server server.Config `mapstructure:"server" yaml:"server"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Store specifies the attribute store type and type-specific configuration
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Xattr contains extended attribute policy settings
	Xattr XattrConfig `mapstructure:"xattr" yaml:"xattr"`

	// Idmap defines how client identities map to filesystem identities
	Idmap IdmapConfig `mapstructure:"idmap" yaml:"idmap"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// StoreConfig specifies attribute store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger s3"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`

	// Objects lists FIDs ("[0xSEQ:0xOID:0xVER]") provisioned at startup.
	// Objects that already exist are left untouched.
	Objects []string `mapstructure:"objects" yaml:"objects"`
}

// XattrConfig contains extended attribute policy settings.
type XattrConfig struct {
	// Features are the connection features granted to clients that ask
	// for them.
	// Valid values: xattr, acl, large_acl
	Features []string `mapstructure:"features" yaml:"features" validate:"dive,oneof=xattr acl large_acl"`

	// MaxEASize is the largest ACL payload translated and the value
	// advertised to clients at connect time
	MaxEASize int `mapstructure:"max_ea_size" yaml:"max_ea_size" validate:"min=0,max=65536"`

	// LockTimeout bounds the wait for a mutation lock. 0 waits until the
	// request timeout.
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout" validate:"min=0"`

	// MaxReplySize is the largest reply bound a getxattr_all request may
	// declare
	MaxReplySize int `mapstructure:"max_reply_size" yaml:"max_reply_size" validate:"min=0"`

	// AllocLimit caps the bytes allocated for one reply
	AllocLimit int `mapstructure:"alloc_limit" yaml:"alloc_limit" validate:"min=0"`
}

// IdmapConfig defines identity mapping.
type IdmapConfig struct {
	// Default is used for clients outside every nodemap range.
	// Nil selects a trusted nodemap passing identities through.
	Default *NodemapConfig `mapstructure:"default" yaml:"default,omitempty"`

	// Nodemaps are matched in order against the client address
	Nodemaps []NodemapConfig `mapstructure:"nodemaps" yaml:"nodemaps" validate:"dive"`
}

// NodemapConfig defines one group of clients sharing an identity policy.
type NodemapConfig struct {
	// Name identifies the nodemap in logs
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Ranges lists the client CIDR ranges served by this nodemap
	Ranges []string `mapstructure:"ranges" yaml:"ranges" validate:"dive,cidr"`

	// Trusted passes identities through unchanged
	Trusted bool `mapstructure:"trusted" yaml:"trusted"`

	// Admin keeps root as root (no root squash)
	Admin bool `mapstructure:"admin" yaml:"admin"`

	// DenyUnknown refuses callers whose uid has no mapping
	DenyUnknown bool `mapstructure:"deny_unknown" yaml:"deny_unknown"`

	// SquashUID and SquashGID replace unmapped ids (default 65534)
	SquashUID uint32 `mapstructure:"squash_uid" yaml:"squash_uid"`
	SquashGID uint32 `mapstructure:"squash_gid" yaml:"squash_gid"`

	// UIDs and GIDs map client ids to filesystem ids
	UIDs []IDMapConfig `mapstructure:"uids" yaml:"uids"`
	GIDs []IDMapConfig `mapstructure:"gids" yaml:"gids"`
}

// IDMapConfig maps one client id to one filesystem id.
type IDMapConfig struct {
	Client uint32 `mapstructure:"client" yaml:"client"`
	FS     uint32 `mapstructure:"fs" yaml:"fs"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMDS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOMDS_ prefix and underscores
	// Example: DITTOMDS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOMDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about, so the
	// scalar keys are bound explicitly.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittomds/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the settings that can be overridden from the environment
// without appearing in the config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.listen_address",
	"server.max_connections",
	"server.workers",
	"server.request_timeout",
	"server.shutdown_timeout",
	"metrics.enabled",
	"metrics.port",
	"store.type",
	"xattr.max_ea_size",
	"xattr.lock_timeout",
	"xattr.max_reply_size",
	"xattr.alloc_limit",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Missing config file is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittomds")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittomds")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

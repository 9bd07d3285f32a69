package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittomds/pkg/handler"
	"github.com/marmos91/dittomds/pkg/server"
	"github.com/marmos91/dittomds/pkg/store/memory"
	"github.com/marmos91/dittomds/pkg/wire"
	"github.com/marmos91/dittomds/pkg/xattr"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMetricsDefaults(&cfg.Metrics)
	applyStoreDefaults(&cfg.Store)
	applyXattrDefaults(&cfg.Xattr)
	applyIdmapDefaults(&cfg.Idmap)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets request server defaults. They mirror the
// defaults server.New applies so generated config files show them.
func applyServerDefaults(cfg *server.Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = server.DefaultListenAddress
	}

	// MaxConnections defaults to 0 (unlimited)

	if cfg.Workers == 0 {
		cfg.Workers = 16
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = 64
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = 5 * time.Minute
	}

	// Rate limits default to 0 (disabled)
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyStoreDefaults sets attribute store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Memory["degree"]; !ok {
		cfg.Memory["degree"] = memory.DefaultDegree
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/dittomds-xattr"
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}

	if cfg.Objects == nil {
		cfg.Objects = []string{}
	}
}

// applyXattrDefaults sets extended attribute policy defaults.
func applyXattrDefaults(cfg *XattrConfig) {
	// A nil feature list grants everything; an explicit empty list
	// grants nothing and serves legacy clients only.
	if cfg.Features == nil {
		cfg.Features = []string{"xattr", "acl", "large_acl"}
	}
	if cfg.MaxEASize == 0 {
		cfg.MaxEASize = handler.DefaultMaxEASize
	}
	if cfg.MaxReplySize == 0 {
		cfg.MaxReplySize = xattr.DefaultMaxReplySize
	}
	if cfg.AllocLimit == 0 {
		cfg.AllocLimit = handler.AllocLimitFactor * cfg.MaxReplySize
	}

	// LockTimeout defaults to 0 (bounded by the request timeout)
}

// applyIdmapDefaults sets nodemap defaults.
func applyIdmapDefaults(cfg *IdmapConfig) {
	if cfg.Nodemaps == nil {
		cfg.Nodemaps = []NodemapConfig{}
	}
	if cfg.Default != nil {
		applyNodemapDefaults(cfg.Default)
	}
	for i := range cfg.Nodemaps {
		applyNodemapDefaults(&cfg.Nodemaps[i])
	}
}

func applyNodemapDefaults(cfg *NodemapConfig) {
	// Anonymous user defaults (nobody/nogroup)
	if cfg.SquashUID == 0 {
		cfg.SquashUID = 65534
	}
	if cfg.SquashGID == 0 {
		cfg.SquashGID = 65534
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

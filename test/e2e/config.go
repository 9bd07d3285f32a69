package e2e

import (
	"fmt"
	"path/filepath"

	"github.com/marmos91/dittomds/pkg/config"
)

// StoreType represents the attribute store backing a test server
type StoreType string

const (
	StoreMemory StoreType = "memory"
	StoreBadger StoreType = "badger"
	StoreS3     StoreType = "s3"
)

// TestContextProvider is an interface for providing test context dependencies
type TestContextProvider interface {
	CreateTempDir(prefix string) string
	GetConfig() *TestConfig
	GetPort() int
}

// TestConfig holds the configuration for a test run
type TestConfig struct {
	Name  string
	Store StoreType

	// Features granted by the server. nil grants every feature.
	Features []string

	// S3-specific fields (set by localstack setup)
	s3Endpoint string
	s3Bucket   string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return string(tc.Store)
}

// ServerConfig builds the application configuration a test server is
// started from. It goes through the same defaults and validation as a
// config file.
func (tc *TestConfig) ServerConfig(testCtx TestContextProvider) (*config.Config, error) {
	cfg := &config.Config{}
	cfg.Logging.Level = "ERROR"
	cfg.Server.ListenAddress = fmt.Sprintf("127.0.0.1:%d", testCtx.GetPort())
	cfg.Store.Type = string(tc.Store)
	cfg.Store.Objects = []string{RootFID.String(), FileFID.String()}
	cfg.Xattr.Features = tc.Features

	switch tc.Store {
	case StoreMemory:
	case StoreBadger:
		dbPath := filepath.Join(testCtx.CreateTempDir("dittomds-badger-*"), "xattr.db")
		cfg.Store.Badger = map[string]any{"db_path": dbPath}
	case StoreS3:
		if tc.s3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket not initialized (localstack not running?)")
		}
		cfg.Store.S3 = map[string]any{
			"endpoint":          tc.s3Endpoint,
			"region":            "us-east-1",
			"bucket":            tc.s3Bucket,
			"access_key_id":     "test",
			"secret_access_key": "test",
			"key_prefix":        fmt.Sprintf("e2e-%d/", testCtx.GetPort()),
			"force_path_style":  true,
		}
	default:
		return nil, fmt.Errorf("unknown store type: %s", tc.Store)
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AllConfigurations returns all test configurations to run
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{Name: "memory", Store: StoreMemory},
		{Name: "badger", Store: StoreBadger},
	}
}

// S3Configurations returns configurations that use S3 (requires localstack)
func S3Configurations() []*TestConfig {
	return []*TestConfig{
		{Name: "s3", Store: StoreS3},
	}
}

// GetConfiguration returns a specific configuration by name
func GetConfiguration(name string) *TestConfig {
	for _, cfg := range AllConfigurations() {
		if cfg.Name == name {
			return cfg
		}
	}
	for _, cfg := range S3Configurations() {
		if cfg.Name == name {
			return cfg
		}
	}
	return nil
}

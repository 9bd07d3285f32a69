package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

store:
  type: "memory"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.ListenAddress != ":7988" {
		t.Errorf("Expected default listen address ':7988', got %q", cfg.Server.ListenAddress)
	}
	if cfg.Xattr.MaxEASize != 65536 {
		t.Errorf("Expected default max_ea_size 65536, got %d", cfg.Xattr.MaxEASize)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A missing explicit path must not fall back to the user's config
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Expected default store type 'memory', got %q", cfg.Store.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[store]
type = "badger"

[store.badger]
db_path = "/var/lib/dittomds"

[xattr]
features = ["xattr"]
lock_timeout = "2s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Store.Badger["db_path"] != "/var/lib/dittomds" {
		t.Errorf("Expected badger db_path from file, got %v", cfg.Store.Badger["db_path"])
	}
	if len(cfg.Xattr.Features) != 1 || cfg.Xattr.Features[0] != "xattr" {
		t.Errorf("Expected features [xattr], got %v", cfg.Xattr.Features)
	}
	if cfg.Xattr.LockTimeout != 2*time.Second {
		t.Errorf("Expected lock_timeout 2s, got %v", cfg.Xattr.LockTimeout)
	}
}

func TestLoad_Nodemaps(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
idmap:
  default:
    name: "outside"
    deny_unknown: true
  nodemaps:
    - name: "lab"
      ranges: ["10.0.0.0/8"]
      uids:
        - client: 500
          fs: 5000
      gids:
        - client: 500
          fs: 5000
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Idmap.Default == nil || cfg.Idmap.Default.Name != "outside" {
		t.Fatalf("Expected default nodemap 'outside', got %+v", cfg.Idmap.Default)
	}
	if len(cfg.Idmap.Nodemaps) != 1 {
		t.Fatalf("Expected 1 nodemap, got %d", len(cfg.Idmap.Nodemaps))
	}
	lab := cfg.Idmap.Nodemaps[0]
	if len(lab.UIDs) != 1 || lab.UIDs[0].Client != 500 || lab.UIDs[0].FS != 5000 {
		t.Errorf("Unexpected uid map: %+v", lab.UIDs)
	}
	if lab.SquashUID != 65534 {
		t.Errorf("Expected squash uid default 65534, got %d", lab.SquashUID)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
store:
  type: "postgres"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown store type")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Server.Workers != 16 {
		t.Errorf("Expected default workers 16, got %d", cfg.Server.Workers)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("Expected default store type 'memory', got %q", cfg.Store.Type)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if len(cfg.Xattr.Features) != 3 {
		t.Errorf("Expected every feature granted by default, got %v", cfg.Xattr.Features)
	}
	if cfg.Idmap.Default != nil {
		t.Errorf("Expected no default nodemap, got %+v", cfg.Idmap.Default)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := GetDefaultConfigPath()
	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "dittomds" {
		t.Errorf("Expected directory name 'dittomds', got %q", filepath.Base(dir))
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh directory")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Fatal("Expected config to exist after InitConfig")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DITTOMDS_LOGGING_LEVEL", "ERROR")
	t.Setenv("DITTOMDS_SERVER_WORKERS", "4")
	t.Setenv("DITTOMDS_XATTR_LOCK_TIMEOUT", "250ms")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

server:
  workers: 32
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Environment variables override the config file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Workers != 4 {
		t.Errorf("Expected workers 4 from env var, got %d", cfg.Server.Workers)
	}
	if cfg.Xattr.LockTimeout != 250*time.Millisecond {
		t.Errorf("Expected lock_timeout 250ms from env var, got %v", cfg.Xattr.LockTimeout)
	}
}

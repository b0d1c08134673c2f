package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/sharebox/pkg/auth"
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
  level: "info"

storage:
  root: "/srv/sharebox"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if !cfg.Adapters.FileServer.Enabled {
		t.Error("Expected file server enabled when the section is absent")
	}
	if cfg.Adapters.FileServer.Port != 4450 {
		t.Errorf("Expected default port 4450, got %d", cfg.Adapters.FileServer.Port)
	}
	if cfg.Adapters.FileServer.ChunkSize != 4096 {
		t.Errorf("Expected default chunk size 4096, got %d", cfg.Adapters.FileServer.ChunkSize)
	}
	if cfg.Adapters.FileServer.IdleTimeout != 0 {
		t.Errorf("Expected no idle timeout by default, got %v", cfg.Adapters.FileServer.IdleTimeout)
	}
	if cfg.Journal.Path != filepath.Join("/srv", "sharebox-journal") {
		t.Errorf("Expected journal next to the storage root, got %q", cfg.Journal.Path)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// An explicit path keeps the user's ~/.config/sharebox out of the test.
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Storage.Root != "server_data" {
		t.Errorf("Expected default root 'server_data', got %q", cfg.Storage.Root)
	}
	if cfg.Reports.ExportDir != "Analysis Reports" {
		t.Errorf("Expected default export dir 'Analysis Reports', got %q", cfg.Reports.ExportDir)
	}
	if !cfg.Journal.Enabled {
		t.Error("Expected journal enabled in the default config")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[adapters.filesrv]
enabled = true
port = 5000
idle_timeout = "2m"
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
	if cfg.Adapters.FileServer.Port != 5000 {
		t.Errorf("Expected port 5000, got %d", cfg.Adapters.FileServer.Port)
	}
	if cfg.Adapters.FileServer.IdleTimeout != 2*time.Minute {
		t.Errorf("Expected idle timeout 2m, got %v", cfg.Adapters.FileServer.IdleTimeout)
	}
}

func TestLoad_Durations(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  shutdown_timeout: 10s
adapters:
  filesrv:
    port: 4450
    enabled: true
    read_timeout: 1m30s
    write_timeout: 15s
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected 10s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Adapters.FileServer.ReadTimeout != 90*time.Second {
		t.Errorf("Expected 1m30s, got %v", cfg.Adapters.FileServer.ReadTimeout)
	}
	if cfg.Adapters.FileServer.WriteTimeout != 15*time.Second {
		t.Errorf("Expected 15s, got %v", cfg.Adapters.FileServer.WriteTimeout)
	}
}

func TestLoad_Users(t *testing.T) {
	digest := auth.HashPassword("secret")
	configPath := writeConfig(t, "config.yaml", `
credentials:
  users:
    alice: `+digest+`
    bob:
      sha256: `+digest+`
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.Credentials.Users["alice"].SHA256; got != digest {
		t.Errorf("Expected bare string to decode as sha256, got %q", got)
	}
	if got := cfg.Credentials.Users["bob"].SHA256; got != digest {
		t.Errorf("Expected mapping to decode as sha256, got %q", got)
	}
}

func TestLoad_InvalidUser(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
credentials:
  users:
    alice: not-a-digest
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for malformed digest")
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
	if !cfg.Adapters.FileServer.Enabled {
		t.Error("Expected file server enabled by default")
	}
	if cfg.Adapters.FileServer.Port != 4450 {
		t.Errorf("Expected default port 4450, got %d", cfg.Adapters.FileServer.Port)
	}
	if cfg.Adapters.FileServer.MaxLineBytes != 4096 {
		t.Errorf("Expected default max line 4096, got %d", cfg.Adapters.FileServer.MaxLineBytes)
	}
	if cfg.Journal.Type != "badger" {
		t.Errorf("Expected default journal type 'badger', got %q", cfg.Journal.Type)
	}
	if cfg.Server.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Default config failed validation: %v", err)
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
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if dir := GetConfigDir(); dir != filepath.Join(xdg, "sharebox") {
		t.Errorf("Expected %q, got %q", filepath.Join(xdg, "sharebox"), dir)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in a fresh XDG_CONFIG_HOME")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("SHAREBOX_LOGGING_LEVEL", "ERROR")
	t.Setenv("SHAREBOX_ADAPTERS_FILESRV_PORT", "5049")

	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "INFO"

adapters:
  filesrv:
    enabled: true
    port: 4450
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.FileServer.Port != 5049 {
		t.Errorf("Expected port 5049 from env var, got %d", cfg.Adapters.FileServer.Port)
	}
}

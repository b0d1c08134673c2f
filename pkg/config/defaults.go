package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/sharebox/pkg/adapter/filesrv"
	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/metrics"
)

// Built-in defaults that other packages and the CLI refer to.
const (
	DefaultStorageRoot = "server_data"
	DefaultReportsDir  = "Analysis Reports"
	DefaultMetricsPort = 9090
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Timeouts on the file server stay at 0 (none) unless configured
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyAdaptersDefaults(&cfg.Adapters)
	applyJournalDefaults(&cfg.Journal, cfg.Storage.Root)
	applyReportsDefaults(&cfg.Reports)
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

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = metrics.DefaultAsyncBuffer
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Root == "" {
		cfg.Root = DefaultStorageRoot
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// A port of 0 means the section was never configured: enable the file
	// server so a config without an adapters section still serves clients.
	// Users can set enabled: false together with a port to disable it.
	if !cfg.FileServer.Enabled && cfg.FileServer.Port == 0 {
		cfg.FileServer.Enabled = true
	}

	applyFileServerDefaults(&cfg.FileServer)
}

// applyFileServerDefaults sets file server defaults. Limits and timeouts keep
// their zero value (disabled).
func applyFileServerDefaults(cfg *filesrv.FileServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = filesrv.DefaultPort
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4096
	}
	if cfg.MaxLineBytes == 0 {
		cfg.MaxLineBytes = 4096
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
	if cfg.RateLimit.ConnectionsPerSecond > 0 && cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 1
	}
}

// applyJournalDefaults places the journal next to the storage root so it
// is never listed by DIR.
func applyJournalDefaults(cfg *JournalConfig, storageRoot string) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Path == "" {
		cfg.Path = filepath.Join(filepath.Dir(filepath.Clean(storageRoot)), "sharebox-journal")
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
}

func applyReportsDefaults(cfg *ReportsConfig) {
	if cfg.ExportDir == "" {
		cfg.ExportDir = DefaultReportsDir
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 3
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			FileServer: filesrv.FileServerConfig{
				Enabled: true,
			},
		},
		Credentials: CredentialsConfig{
			Users: map[string]auth.Credential{},
		},
		Journal: JournalConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/marmos91/sharebox/pkg/adapter/filesrv"
	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/export"
)

// Config represents the complete sharebox configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SHAREBOX_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage locates the directory tree served to clients
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Credentials lists the users allowed to CONNECT
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`

	// Journal persists the action and connection event stream
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`

	// Reports configures where exported journal reports go
	Reports ReportsConfig `mapstructure:"reports" yaml:"reports"`
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

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// LogEvents mirrors every action and connection event to the debug log.
	LogEvents bool `mapstructure:"log_events" yaml:"log_events"`

	// EventBuffer is the queue size between sessions and slow sinks
	// (journal). Events are dropped when the queue is full.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer" validate:"min=0"`
}

// MetricsConfig controls the metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// StorageConfig locates the storage root.
type StorageConfig struct {
	// Root is created if missing. Relative paths are resolved against the
	// working directory.
	Root string `mapstructure:"root" yaml:"root" validate:"required"`
}

// CredentialsConfig holds users inline and/or points at a credentials file.
// Inline users win over file entries with the same name.
type CredentialsConfig struct {
	// File is a YAML credentials file (see auth.LoadFile). Optional.
	File string `mapstructure:"file" yaml:"file,omitempty"`

	// Users maps usernames to credentials. A bare string is a sha256 digest.
	Users map[string]auth.Credential `mapstructure:"users" yaml:"users,omitempty"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// FileServer contains the line protocol configuration.
	// Uses the filesrv.FileServerConfig type directly to avoid duplication.
	FileServer filesrv.FileServerConfig `mapstructure:"filesrv" yaml:"filesrv"`
}

// JournalConfig selects and configures the event journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Type specifies the journal backend
	// Valid values: badger, memory
	Type string `mapstructure:"type" yaml:"type" validate:"omitempty,oneof=badger memory"`

	// Path is the BadgerDB directory. Only used when Type = "badger"
	Path string `mapstructure:"path" yaml:"path"`

	// Badger contains extra BadgerDB options (sync_writes)
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// ReportsConfig configures report export destinations.
type ReportsConfig struct {
	// ExportDir is the default local directory for `sharebox report --export-dir`.
	ExportDir string `mapstructure:"export_dir" yaml:"export_dir"`

	// S3 is used by `sharebox report --s3`.
	S3 export.S3Config `mapstructure:"s3" yaml:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SHAREBOX_*)
//  2. Configuration file
//  3. Default values
//
// A missing config file is not an error: the built-in defaults are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration like Load, but insists that a config file
// exists and explains how to create one when it does not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !ConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  sharebox init\n\n"+
				"Or specify a custom config file:\n"+
				"  sharebox <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  sharebox init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: SHAREBOX_ADAPTERS_FILESRV_PORT=5000
	v.SetEnvPrefix("SHAREBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/sharebox/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file and reports whether one was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		// An explicit path that does not exist surfaces as an fs error.
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		credentialDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// credentialDecodeHook lets a user entry be a bare sha256 digest string,
// matching the credentials file format.
func credentialDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(auth.Credential{}) {
			return data, nil
		}
		if s, ok := data.(string); ok {
			return auth.Credential{SHA256: s}, nil
		}
		return data, nil
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sharebox")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sharebox")
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

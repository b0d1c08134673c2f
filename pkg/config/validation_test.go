package config

import (
	"strings"
	"testing"

	"github.com/marmos91/sharebox/pkg/auth"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_ZeroShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ShutdownTimeout = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for zero shutdown timeout")
	}
}

func TestValidate_EmptyStorageRoot(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Root = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for empty storage root")
	}
	if !strings.Contains(err.Error(), "Root") {
		t.Errorf("Expected error to name the root field, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.FileServer.Port = 70000

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for out of range port")
	}
}

func TestValidate_NegativeLimits(t *testing.T) {
	cases := map[string]func(*Config){
		"max_connections":  func(c *Config) { c.Adapters.FileServer.MaxConnections = -1 },
		"max_upload_bytes": func(c *Config) { c.Adapters.FileServer.MaxUploadBytes = -1 },
		"idle_timeout":     func(c *Config) { c.Adapters.FileServer.IdleTimeout = -1 },
		"event_buffer":     func(c *Config) { c.Server.EventBuffer = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatalf("Expected validation error for negative %s", name)
			}
		})
	}
}

func TestValidate_NoAdaptersEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.FileServer.Enabled = false

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error when no adapters are enabled")
	}
	if !strings.Contains(err.Error(), "at least one adapter") {
		t.Errorf("Expected 'at least one adapter' error, got: %v", err)
	}
}

func TestValidate_MetricsPortCollision(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Metrics.Enabled = true
	cfg.Server.Metrics.Port = cfg.Adapters.FileServer.Port

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for metrics port collision")
	}
}

func TestValidate_BurstWithoutRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.FileServer.RateLimit.Burst = 3

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for burst without rate")
	}
}

func TestValidate_Users(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Credentials.Users = map[string]auth.Credential{
			"alice": {SHA256: auth.HashPassword("secret")},
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("Expected valid user to pass, got: %v", err)
		}
	})

	t.Run("MalformedDigest", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Credentials.Users = map[string]auth.Credential{
			"alice": {SHA256: "abc"},
		}
		err := Validate(cfg)
		if err == nil {
			t.Fatal("Expected validation error for short digest")
		}
		if !strings.Contains(err.Error(), "alice") {
			t.Errorf("Expected error to name the user, got: %v", err)
		}
	})

	t.Run("NoSecret", func(t *testing.T) {
		cfg := GetDefaultConfig()
		cfg.Credentials.Users = map[string]auth.Credential{"bob": {}}
		if err := Validate(cfg); err == nil {
			t.Fatal("Expected validation error for user without a secret")
		}
	})
}

func TestValidate_InvalidJournalType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Journal.Type = "postgres"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for unknown journal type")
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const configHeader = `# sharebox Configuration File
#
# Environment variables override any value here: SHAREBOX_<SECTION>_<KEY>,
# for example SHAREBOX_ADAPTERS_FILESRV_PORT=5000.
#
# Users are listed under credentials.users as either
#   alice: <sha256 hex of the password>
# or
#   bob:
#     bcrypt: <bcrypt hash of that hex digest>
# Use "sharebox hash" to compute them.
#
# Durations accept Go syntax ("30s", "5m"). A zero timeout disables it.

`

// InitConfig writes a default config file to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default config file to path.
func InitConfigToPath(path string, force bool) error {
	return WriteConfig(GetDefaultConfig(), path, force)
}

// WriteConfig writes cfg with the explanatory header to path.
func WriteConfig(cfg *Config, path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML under configHeader.
func generateYAMLWithComments(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	var b strings.Builder
	b.WriteString(configHeader)
	b.Write(data)
	return b.String(), nil
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/config"
)

var (
	initForce    bool
	initUser     string
	initPassword string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample sharebox configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/sharebox/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  sharebox init

  # Initialize with custom path and a first user
  sharebox init --config /etc/sharebox/config.yaml --user alice --password s3cret

  # Force overwrite existing config
  sharebox init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().StringVar(&initUser, "user", "", "Add a user to credentials.users")
	initCmd.Flags().StringVar(&initPassword, "password", "", "Password for --user (stored as its sha256 digest)")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.GetDefaultConfig()

	if initUser != "" {
		if initPassword == "" {
			return fmt.Errorf("--password is required with --user")
		}
		cfg.Credentials.Users[initUser] = auth.Credential{SHA256: auth.HashPassword(initPassword)}
	}

	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if err := config.WriteConfig(cfg, configPath, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Add users under credentials.users (see: sharebox hash --help)")
	_, _ = fmt.Fprintln(out, "  2. Start the server with: sharebox start")
	_, _ = fmt.Fprintf(out, "  3. Or specify custom config: sharebox start --config %s\n", configPath)

	return nil
}

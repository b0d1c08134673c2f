package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/config"
	"github.com/marmos91/sharebox/pkg/server"
)

var (
	startPort     int
	startRoot     string
	startLogLevel string
	pidFile       string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sharebox server",
	Long: `Start the sharebox server in the foreground.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/sharebox/config.yaml. Without either,
built-in defaults are used (port 4450, storage root ./server_data).

Examples:
  # Start with defaults or the default config file
  sharebox start

  # Start with custom config file
  sharebox start --config /etc/sharebox/config.yaml

  # Override the port and storage root
  sharebox start --port 5000 --root /srv/share

  # Start with environment variable overrides
  SHAREBOX_LOGGING_LEVEL=DEBUG sharebox start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().IntVar(&startPort, "port", 0, "Port to listen on (overrides adapters.filesrv.port)")
	startCmd.Flags().StringVar(&startRoot, "root", "", "Storage root directory (overrides storage.root)")
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides logging.level)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the process ID to this file")
}

// applyStartFlags layers explicitly set flags over the loaded config.
func applyStartFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("port") {
		cfg.Adapters.FileServer.Port = startPort
	}
	if cmd.Flags().Changed("root") {
		cfg.Storage.Root = startRoot
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = startLogLevel
	}
	config.ApplyDefaults(cfg)
	return config.Validate(cfg)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyStartFlags(cmd, cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("sharebox - multi-client file sharing server")
	logger.Info("Log level: %s (format=%s)", cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from: %s", getConfigSource(GetConfigFile()))

	metricsResult := config.InitializeMetrics(cfg)

	rt, err := config.InitializeBackend(ctx, cfg, metricsResult.Sink)
	if err != nil {
		return fmt.Errorf("failed to initialize backend: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Backend shutdown error: %v", err)
		}
	}()

	adapters, err := config.CreateAdapters(cfg, metricsResult.ServerMetrics)
	if err != nil {
		return err
	}

	srv := server.New(rt.Backend)
	srv.SetStopTimeout(cfg.Server.ShutdownTimeout)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	if metricsResult.Server != nil {
		logger.Info("Metrics enabled on port %d", cfg.Server.Metrics.Port)
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	} else {
		logger.Info("Metrics collection disabled")
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", cfg.Adapters.FileServer.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error: %v", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error: %v", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

package filesrv

import (
	"fmt"
	"time"

	"github.com/marmos91/sharebox/pkg/protocol"
	"github.com/marmos91/sharebox/pkg/transfer"
)

// DefaultPort is the port the file server listens on when none is configured.
const DefaultPort = 4450

// FileServerConfig holds configuration parameters for the file server.
//
// Every limit and timeout is optional and disabled by default, so an
// unconfigured server behaves like the plain protocol: one goroutine per
// connection, no deadlines, no admission control.
//
// Default values (applied by New if zero):
//   - ChunkSize: 4096
//   - MaxLineBytes: 4096
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
type FileServerConfig struct {
	// Enabled controls whether the file server adapter is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the interface to listen on. Empty means all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on. 0 lets the OS pick a free port.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// MaxConnections caps concurrent sessions. Connections over the cap are
	// answered with "ERROR@Too many connections" and closed. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// ChunkSize is the transfer engine's chunk size in bytes.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size" validate:"min=0"`

	// MaxLineBytes bounds a single command line.
	MaxLineBytes int `mapstructure:"max_line_bytes" yaml:"max_line_bytes" validate:"min=0"`

	// MaxUploadBytes refuses larger uploads. 0 means unlimited.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"min=0"`

	// ReadTimeout bounds each read while a command is in progress
	// (overwrite answers, download acks, upload payload). 0 means none.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds each write to the client. 0 means none.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// IdleTimeout closes sessions that send no command for this long. 0 means none.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is how long graceful shutdown waits before force-closing
	// remaining connections.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is the interval for logging connection counts.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"min=0"`

	// DownloadTrailer sends "OK@Download complete" after the download bytes.
	DownloadTrailer bool `mapstructure:"download_trailer" yaml:"download_trailer"`

	// RateLimit throttles new connections per client host.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures connection admission per client host.
type RateLimitConfig struct {
	// ConnectionsPerSecond is the sustained rate. 0 disables rate limiting.
	ConnectionsPerSecond float64 `mapstructure:"connections_per_second" yaml:"connections_per_second" validate:"min=0"`

	// Burst is the bucket size.
	Burst int `mapstructure:"burst" yaml:"burst" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *FileServerConfig) applyDefaults() {
	// Enabled and Port defaults live in pkg/config so that explicit values
	// from configuration files are preserved.
	if c.ChunkSize == 0 {
		c.ChunkSize = transfer.DefaultChunkSize
	}
	if c.MaxLineBytes == 0 {
		c.MaxLineBytes = protocol.DefaultMaxLineBytes
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
	if c.RateLimit.ConnectionsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
}

func (c *FileServerConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("invalid ChunkSize %d: must be >= 0", c.ChunkSize)
	}
	if c.MaxLineBytes < 0 {
		return fmt.Errorf("invalid MaxLineBytes %d: must be >= 0", c.MaxLineBytes)
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("invalid MaxUploadBytes %d: must be >= 0", c.MaxUploadBytes)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts: read=%v write=%v idle=%v must be >= 0",
			c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.RateLimit.ConnectionsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("invalid rate limit: rate=%v burst=%d must be >= 0",
			c.RateLimit.ConnectionsPerSecond, c.RateLimit.Burst)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *FileServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

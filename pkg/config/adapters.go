package config

import (
	"fmt"

	"github.com/marmos91/sharebox/pkg/adapter"
	"github.com/marmos91/sharebox/pkg/adapter/filesrv"
	"github.com/marmos91/sharebox/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete sharebox configuration
//   - serverMetrics: Optional file server metrics collector (nil = no metrics)
//
// Returns:
//   - []adapter.Adapter: List of enabled adapters ready to be added to the server
//   - error: Any error during adapter creation
func CreateAdapters(cfg *Config, serverMetrics metrics.ServerMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.FileServer.Enabled {
		adapters = append(adapters, filesrv.New(cfg.Adapters.FileServer, serverMetrics))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}

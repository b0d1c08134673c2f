package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/adapter"
	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/lock"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/metrics/journal"
	"github.com/marmos91/sharebox/pkg/storage"
)

// Runtime is the backend built from configuration plus the resources that
// must be released when the server stops.
type Runtime struct {
	Backend *adapter.Backend

	// Journal is nil when the journal is disabled.
	Journal *journal.Journal

	async *metrics.AsyncSink
}

// InitializeBackend creates the storage root, credential store, lock
// registry and event sinks described by cfg.
//
// extra is fanned out next to the configured sinks (typically the
// Prometheus sink from InitializeMetrics). It may be nil.
func InitializeBackend(ctx context.Context, cfg *Config, extra metrics.Sink) (*Runtime, error) {
	root, err := storage.NewRoot(cfg.Storage.Root)
	if err != nil {
		return nil, err
	}
	logger.Info("Storage root: %s", root.Path())

	store, err := createCredentialStore(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if store.Len() == 0 {
		logger.Warn("No users configured: every CONNECT will be rejected")
	} else {
		logger.Info("Loaded %d users", store.Len())
	}

	rt := &Runtime{}
	if cfg.Journal.Enabled {
		j, err := CreateJournal(ctx, &cfg.Journal, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		rt.Journal = j
		logger.Info("Journal enabled: type=%s path=%s", cfg.Journal.Type, cfg.Journal.Path)
	}

	sink, async := CreateSink(cfg, extra, rt.Journal)
	rt.async = async

	rt.Backend = &adapter.Backend{
		Root:  root,
		Auth:  auth.New(store),
		Locks: lock.NewRegistry(),
		Sink:  sink,
	}
	return rt, nil
}

// Close drains queued events into the journal, then closes it.
func (r *Runtime) Close() error {
	if r.async != nil {
		r.async.Close()
		if dropped := r.async.Dropped(); dropped > 0 {
			logger.Warn("Dropped %d metrics events", dropped)
		}
	}

	var errs []error
	if r.Journal != nil {
		if err := r.Journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	return errors.Join(errs...)
}

package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/metrics/journal"
)

// createCredentialStore builds the credential store from the credentials file
// (if any) and the inline users. Inline users win on conflict.
func createCredentialStore(cfg CredentialsConfig) (*auth.StaticStore, error) {
	inline, err := auth.NewStaticStore(cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("credentials.users: %w", err)
	}

	if cfg.File == "" {
		return inline, nil
	}

	fromFile, err := auth.LoadFile(cfg.File)
	if err != nil {
		return nil, err
	}

	logger.Debug("Loaded %d users from %s", fromFile.Len(), cfg.File)
	return fromFile.Merge(inline), nil
}

// CreateJournal opens the event journal described by cfg.
//
// Supported types:
//   - "badger": persistent BadgerDB at cfg.Path
//   - "memory": in-memory BadgerDB (lost on exit)
//
// readOnly opens an existing journal for reporting.
func CreateJournal(ctx context.Context, cfg *JournalConfig, readOnly bool) (*journal.Journal, error) {
	switch cfg.Type {
	case "badger", "":
		return createBadgerJournal(ctx, cfg, readOnly)
	case "memory":
		return journal.Open(ctx, journal.Config{InMemory: true})
	default:
		return nil, fmt.Errorf("unknown journal type: %q (supported: badger, memory)", cfg.Type)
	}
}

func createBadgerJournal(ctx context.Context, cfg *JournalConfig, readOnly bool) (*journal.Journal, error) {
	var jcfg journal.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &jcfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(cfg.Badger); err != nil {
		return nil, fmt.Errorf("failed to decode badger journal options: %w", err)
	}

	if jcfg.Path == "" {
		jcfg.Path = cfg.Path
	}
	if jcfg.Path == "" {
		return nil, fmt.Errorf("badger journal: path is required")
	}
	jcfg.ReadOnly = readOnly

	return journal.Open(ctx, jcfg)
}

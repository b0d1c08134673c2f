package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// rule checks one cross-field constraint that struct tags cannot express.
type rule func(cfg *Config) error

var rules = []rule{
	requireAdapter,
	checkPortCollision,
	checkRateLimit,
	checkUsers,
	checkJournal,
}

// Validate checks struct tags first, then the cross-field rules. Log level
// case is normalized by ApplyDefaults; both cases pass here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	for _, r := range rules {
		if err := r(cfg); err != nil {
			return err
		}
	}
	return nil
}

func requireAdapter(cfg *Config) error {
	if !cfg.Adapters.FileServer.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}
	return nil
}

func checkPortCollision(cfg *Config) error {
	port := cfg.Adapters.FileServer.Port
	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == port {
		return fmt.Errorf("server.metrics.port: %d collides with adapters.filesrv.port", port)
	}
	return nil
}

func checkRateLimit(cfg *Config) error {
	rl := cfg.Adapters.FileServer.RateLimit
	if rl.ConnectionsPerSecond == 0 && rl.Burst > 0 {
		return fmt.Errorf("adapters.filesrv.rate_limit: burst is set but connections_per_second is 0")
	}
	return nil
}

func checkUsers(cfg *Config) error {
	for name, cred := range cfg.Credentials.Users {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("credentials.users: empty username")
		}
		if err := cred.Validate(); err != nil {
			return fmt.Errorf("credentials.users[%s]: %w", name, err)
		}
	}
	return nil
}

func checkJournal(cfg *Config) error {
	j := cfg.Journal
	if j.Enabled && (j.Type == "" || j.Type == "badger") && j.Path == "" {
		return fmt.Errorf("journal.path: required for the badger journal")
	}
	return nil
}

// formatValidationError lists every failed field as "Namespace: tag (value)".
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
	"github.com/mozilla-ai/mcphost/internal/transport"
)

// ValidationPredicate evaluates a loaded Config and returns an error if invalid.
type ValidationPredicate func(*Config) error

// validatingLoader wraps a Loader to run additional validation predicates at load time.
// Uses decorator pattern to preserve custom loader implementations while adding validation.
type validatingLoader struct {
	Loader
	predicates []ValidationPredicate
}

// NewValidatingLoader creates a loader that runs validation predicates after Load().
func NewValidatingLoader(inner Loader, predicates ...ValidationPredicate) *validatingLoader {
	return &validatingLoader{
		Loader:     inner,
		predicates: predicates,
	}
}

// Load delegates to inner loader, then runs validation predicates.
func (l *validatingLoader) Load(path string) (Modifier, error) {
	mod, err := l.Loader.Load(path)
	if err != nil {
		return nil, err
	}

	cfg, ok := mod.(*Config)
	if !ok {
		return nil, fmt.Errorf("invalid config structure")
	}

	for _, predicate := range l.predicates {
		if err := predicate(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ValidateCommands checks that every stdio server's command can be found.
// The result depends on the local environment, so it is opt-in rather than part of Load.
func ValidateCommands(cfg *Config) error {
	var errs []error
	for _, col := range cfg.Collections {
		for _, s := range col.Servers {
			if s.Type != transport.KindStdio {
				continue
			}
			command := s.Command
			if !strings.ContainsRune(command, filepath.Separator) {
				if _, err := exec.LookPath(command); err != nil {
					errs = append(errs, fmt.Errorf("server '%s': %w: '%s'", s.ID, apperrors.ErrCommandNotFound, command))
				}
				continue
			}
			if !filepath.IsAbs(command) {
				command = filepath.Join(s.WorkDir(), command)
			}
			if _, err := os.Stat(command); err != nil {
				errs = append(errs, fmt.Errorf("server '%s': %w: '%s'", s.ID, apperrors.ErrCommandNotFound, command))
			}
		}
	}
	return errors.Join(errs...)
}

// RequireAutoStartTrusted rejects auto-start servers in collections that would otherwise wait for consent.
func RequireAutoStartTrusted(cfg *Config) error {
	for _, col := range cfg.Collections {
		if col.Scope == ScopeUser || (col.Trusted != nil && *col.Trusted) {
			continue
		}
		for _, s := range col.Servers {
			if s.AutoStart {
				return fmt.Errorf(
					"server '%s' is marked auto_start but collection '%s' is not trusted",
					s.ID,
					col.ID,
				)
			}
		}
	}
	return nil
}

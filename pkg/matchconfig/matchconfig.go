// Package matchconfig resolves the matching configuration in effect for a run.
// Precedence is company override, then global override, then the base
// configuration (built-in defaults optionally replaced by a YAML file).
package matchconfig

import (
	"context"
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"gopkg.in/yaml.v3"

	matcherrors "github.com/Ramsey-B/sorrel/pkg/errors"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Store reads and writes stored overrides by scope
type Store interface {
	Get(ctx context.Context, scope string) (*models.MatchingConfiguration, error)
	Upsert(ctx context.Context, cfg *models.MatchingConfiguration) error
}

// LoadFile reads a YAML configuration on top of the defaults. Keys missing from
// the file keep their default values.
func LoadFile(path string) (*models.MatchingConfiguration, error) {
	cfg := models.DefaultMatchingConfiguration()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matching config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, matcherrors.NewConfigurationErrorf("failed to parse %s: %v", path, err)
	}
	if cfg.Scope == "" {
		cfg.Scope = models.GlobalScope
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Provider resolves effective configurations
type Provider struct {
	base   *models.MatchingConfiguration
	store  Store
	logger ectologger.Logger
}

func NewProvider(base *models.MatchingConfiguration, store Store, logger ectologger.Logger) *Provider {
	if base == nil {
		base = models.DefaultMatchingConfiguration()
	}
	return &Provider{base: base, store: store, logger: logger}
}

// Base returns a copy of the base configuration
func (p *Provider) Base() *models.MatchingConfiguration {
	return p.base.Clone()
}

// Effective returns the configuration for companyID ("" for global). The result
// is a copy the caller may keep for the duration of a run.
func (p *Provider) Effective(ctx context.Context, companyID string) (*models.MatchingConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "matchconfig.Provider.Effective")
	defer span.End()

	scopes := []string{models.GlobalScope}
	if companyID != "" && companyID != models.GlobalScope {
		scopes = []string{companyID, models.GlobalScope}
	}

	if p.store != nil {
		for _, scope := range scopes {
			cfg, err := p.store.Get(ctx, scope)
			if err != nil {
				return nil, err
			}
			if cfg != nil {
				p.logger.WithContext(ctx).WithFields(map[string]any{
					"scope":   scope,
					"version": cfg.Version(),
				}).Debug("Using stored matching configuration")
				return cfg.Clone(), nil
			}
		}
	}

	cfg := p.base.Clone()
	if companyID != "" {
		cfg.Scope = companyID
	}
	return cfg, nil
}

// Save validates and stores an override for cfg.Scope
func (p *Provider) Save(ctx context.Context, cfg *models.MatchingConfiguration) error {
	ctx, span := tracing.StartSpan(ctx, "matchconfig.Provider.Save")
	defer span.End()

	if cfg.Scope == "" {
		cfg.Scope = models.GlobalScope
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if p.store == nil {
		return fmt.Errorf("no configuration store configured")
	}
	if err := p.store.Upsert(ctx, cfg); err != nil {
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"scope":   cfg.Scope,
		"version": cfg.Version(),
	}).Info("Saved matching configuration")
	return nil
}

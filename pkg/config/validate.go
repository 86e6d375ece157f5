package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// At least one provider is required.
	if len(c.Providers) == 0 {
		errs = append(errs, fmt.Errorf("at least one provider is required"))
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d].name is required", i))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d].name %q is duplicated", i, p.Name))
		}
		seen[p.Name] = true

		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers[%d].base_url is required", i))
		}
		if len(p.Models) == 0 {
			errs = append(errs, fmt.Errorf("providers[%d].models must list at least one model", i))
		}

		switch p.Type {
		case "openai", "jobapi":
			// valid
		default:
			errs = append(errs, fmt.Errorf("providers[%d].type must be \"openai\" or \"jobapi\", got %q", i, p.Type))
		}
	}

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	// Poller tuning must describe a growing, bounded backoff.
	if c.Poller.GrowthFactor < 1.0 {
		errs = append(errs, fmt.Errorf("poller.growth_factor must be >= 1.0, got %v", c.Poller.GrowthFactor))
	}
	if c.Poller.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("poller.base_delay must be > 0, got %v", c.Poller.BaseDelay))
	}
	if c.Poller.CapDelay < c.Poller.BaseDelay {
		errs = append(errs, fmt.Errorf("poller.cap_delay must be >= poller.base_delay"))
	}

	// Router thresholds must be ordered.
	if c.Router.EWMAAlpha <= 0 || c.Router.EWMAAlpha > 1 {
		errs = append(errs, fmt.Errorf("router.ewma_alpha must be in (0, 1], got %v", c.Router.EWMAAlpha))
	}
	if c.Router.UnhealthyThreshold < c.Router.DegradedThreshold {
		errs = append(errs, fmt.Errorf("router.unhealthy_threshold must be >= router.degraded_threshold"))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	// auth.type must be a known value.
	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Auth.Type == "jwt" && c.Auth.JWT.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
	}

	return errors.Join(errs...)
}

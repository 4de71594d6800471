package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// loadFromEnv overrides cfg with the PASSKIT_* variables that are set.
// Unset variables leave the current value alone.
func loadFromEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
	"time"
)

// LoadProfile returns the defaults for a named deployment profile, with
// environment overrides applied.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
		cfg.Settings.DispatchMode = "sync"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Settings.DispatchMode = "sync"
		cfg.Settings.HookRetryInterval = 100 * time.Millisecond
		cfg.Storage.File.Path = "./data/passkit-test.json"
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "redis"
		cfg.Metrics.Enabled = true
		cfg.Integrations.Presence = "redis"
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "sql"
		cfg.Server.CORSOrigin = ""
		cfg.Metrics.Enabled = true
		cfg.Integrations.Presence = "redis"
		cfg.Security.EnableRateLimit = true
		cfg.Security.RateLimit = RateLimitConfig{RequestsPerMinute: 600, BurstSize: 50}
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"passkit/adapters/redis"
	"passkit/adapters/sqlx"
	"passkit/integrations"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"PASSKIT_ENV"`
	Profile     string      `json:"profile" env:"PASSKIT_PROFILE"`

	Server       ServerConfig       `json:"server"`
	Storage      StorageConfig      `json:"storage"`
	Passes       PassesConfig       `json:"passes"`
	Settings     SettingsConfig     `json:"settings"`
	Integrations IntegrationsConfig `json:"integrations"`
	Analytics    AnalyticsConfig    `json:"analytics"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Security     SecurityConfig     `json:"security"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"PASSKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"PASSKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"PASSKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"PASSKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"PASSKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"PASSKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"PASSKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"PASSKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"PASSKIT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty" envPrefix:"PASSKIT_STORAGE_REDIS_"`
	SQL     sqlx.Config  `json:"sql,omitempty" envPrefix:"PASSKIT_STORAGE_SQL_"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"PASSKIT_STORAGE_FILE_PATH"`
}

// PassesConfig locates the YAML game configuration.
type PassesConfig struct {
	// Dir holds one YAML file per pass type; the file name is the pass id.
	Dir             string `json:"dir" env:"PASSKIT_PASSES_DIR"`
	RewardsFile     string `json:"rewards_file" env:"PASSKIT_REWARDS_FILE"`
	QuestsFile      string `json:"quests_file" env:"PASSKIT_QUESTS_FILE"`
	RewardCacheSize int    `json:"reward_cache_size" env:"PASSKIT_REWARD_CACHE_SIZE"`
}

// SettingsConfig holds engine behaviour toggles.
type SettingsConfig struct {
	DisabledPluginHooks []string      `json:"disabled-plugin-hooks" env:"PASSKIT_DISABLED_PLUGIN_HOOKS"`
	EnablePlayTime      bool          `json:"enable-play-time" env:"PASSKIT_ENABLE_PLAY_TIME"`
	HookRetryInterval   time.Duration `json:"hook_retry_interval" env:"PASSKIT_HOOK_RETRY_INTERVAL"`
	HookMaxAttempts     int           `json:"hook_max_attempts" env:"PASSKIT_HOOK_MAX_ATTEMPTS"`
	DispatchMode        string        `json:"dispatch_mode" env:"PASSKIT_DISPATCH_MODE"`
	Workers             int           `json:"workers" env:"PASSKIT_DISPATCH_WORKERS"`
}

// IntegrationsConfig describes how optional external systems are found and
// where engine events are forwarded.
type IntegrationsConfig struct {
	// Presence is "static" (Systems below) or "redis" (hashes announced by the systems themselves).
	Presence string                    `json:"presence" env:"PASSKIT_PRESENCE"`
	Systems  []integrations.SystemInfo `json:"systems,omitempty"`
	Redis    redis.Config              `json:"redis,omitempty" envPrefix:"PASSKIT_PRESENCE_REDIS_"`
	Webhooks []string                  `json:"webhooks,omitempty" env:"PASSKIT_WEBHOOKS"`
}

// AnalyticsConfig controls season statistics and their export.
type AnalyticsConfig struct {
	Enabled        bool          `json:"enabled" env:"PASSKIT_ANALYTICS_ENABLED"`
	Interval       time.Duration `json:"interval" env:"PASSKIT_ANALYTICS_INTERVAL"`
	ExportEndpoint string        `json:"export_endpoint,omitempty" env:"PASSKIT_ANALYTICS_EXPORT_ENDPOINT"`
	ExportAPIKey   string        `json:"export_api_key,omitempty" env:"PASSKIT_ANALYTICS_EXPORT_API_KEY"`
	BatchSize      int           `json:"batch_size" env:"PASSKIT_ANALYTICS_BATCH_SIZE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"PASSKIT_LOG_LEVEL"`
	Format     string            `json:"format" env:"PASSKIT_LOG_FORMAT"`
	Output     string            `json:"output" env:"PASSKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"PASSKIT_LOG_ATTRIBUTES" envKeyValSeparator:"="`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"PASSKIT_METRICS_ENABLED"`
	Address string `json:"address" env:"PASSKIT_METRICS_ADDR"`
	Path    string `json:"path" env:"PASSKIT_METRICS_PATH"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"PASSKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"PASSKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" env:"PASSKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int `json:"burst_size" env:"PASSKIT_SECURITY_RATE_LIMIT_BURST"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file. Environment variables
// override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/passkit.json",
			},
		},
		Passes: PassesConfig{
			Dir:             "./config/passes",
			RewardsFile:     "./config/rewards.yml",
			QuestsFile:      "./config/quests.yml",
			RewardCacheSize: 1024,
		},
		Settings: SettingsConfig{
			DisabledPluginHooks: []string{},
			HookRetryInterval:   integrations.DefaultRetryInterval,
			HookMaxAttempts:     integrations.DefaultMaxAttempts,
			DispatchMode:        "async",
			Workers:             4,
		},
		Integrations: IntegrationsConfig{
			Presence: "static",
			Redis:    redis.DefaultConfig(),
		},
		Analytics: AnalyticsConfig{
			Enabled:   true,
			Interval:  5 * time.Minute,
			BatchSize: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"passes", &c.Passes},
		{"settings", &c.Settings},
		{"integrations", &c.Integrations},
		{"analytics", &c.Analytics},
		{"logging", &c.Logging},
		{"metrics", &c.Metrics},
		{"security", &c.Security},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Integrations.Redis.Password != "" {
		cfg.Integrations.Redis.Password = "[REDACTED]"
	}
	if cfg.Analytics.ExportAPIKey != "" {
		cfg.Analytics.ExportAPIKey = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"passkit/adapters/sqlx"
)

func joinErrs(errs []string) error {
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func oneOf(field, value string, valid ...string) string {
	if slices.Contains(valid, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(valid, ", "))
}

func appendIf(errs []string, msg string) []string {
	if msg == "" {
		return errs
	}
	return append(errs, msg)
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string
	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}
	timeouts := map[string]bool{
		"read_timeout":        s.ReadTimeout > 0,
		"write_timeout":       s.WriteTimeout > 0,
		"idle_timeout":        s.IdleTimeout > 0,
		"read_header_timeout": s.ReadHeaderTimeout > 0,
		"shutdown_timeout":    s.ShutdownTimeout > 0,
	}
	for _, name := range []string{"read_timeout", "write_timeout", "idle_timeout", "read_header_timeout", "shutdown_timeout"} {
		if !timeouts[name] {
			errs = append(errs, name+" must be positive")
		}
	}
	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string
	errs = appendIf(errs, oneOf("adapter", s.Adapter, "memory", "redis", "sql", "file"))

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		errs = appendIf(errs, oneOf("sql config: driver", s.SQL.Driver, sqlx.DriverPostgres, sqlx.DriverMySQL, sqlx.DriverSQLite))
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	}
	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

func (p *PassesConfig) Validate() error {
	var errs []string
	if p.Dir == "" {
		errs = append(errs, "dir cannot be empty")
	}
	if p.RewardCacheSize < 0 {
		errs = append(errs, "reward_cache_size cannot be negative")
	}
	return joinErrs(errs)
}

func (s *SettingsConfig) Validate() error {
	var errs []string
	errs = appendIf(errs, oneOf("dispatch_mode", s.DispatchMode, "sync", "async"))
	if s.DispatchMode == "async" && s.Workers <= 0 {
		errs = append(errs, "workers must be > 0 in async mode")
	}
	if s.HookRetryInterval <= 0 {
		errs = append(errs, "hook_retry_interval must be positive")
	}
	if s.HookMaxAttempts <= 0 {
		errs = append(errs, "hook_max_attempts must be positive")
	}
	for i, name := range s.DisabledPluginHooks {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Sprintf("disabled-plugin-hooks[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

func (in *IntegrationsConfig) Validate() error {
	var errs []string
	errs = appendIf(errs, oneOf("presence", in.Presence, "static", "redis"))
	if in.Presence == "redis" && in.Redis.Addr == "" {
		errs = append(errs, "redis.addr cannot be empty with redis presence")
	}
	for i, sys := range in.Systems {
		if strings.TrimSpace(sys.Name) == "" {
			errs = append(errs, fmt.Sprintf("systems[%d].name is empty", i))
		}
	}
	for i, raw := range in.Webhooks {
		if !isHTTPURL(raw) {
			errs = append(errs, fmt.Sprintf("webhooks[%d] must be an absolute http(s) url", i))
		}
	}
	return joinErrs(errs)
}

func (a *AnalyticsConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	var errs []string
	if a.Interval <= 0 {
		errs = append(errs, "interval must be positive")
	}
	if a.ExportEndpoint != "" {
		if !isHTTPURL(a.ExportEndpoint) {
			errs = append(errs, "export_endpoint must be an absolute http(s) url")
		}
		if a.BatchSize <= 0 {
			errs = append(errs, "batch_size must be > 0 when exporting")
		}
	}
	return joinErrs(errs)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string
	errs = appendIf(errs, oneOf("level", l.Level, "debug", "info", "warn", "error"))
	errs = appendIf(errs, oneOf("format", l.Format, "json", "text"))
	errs = appendIf(errs, oneOf("output", l.Output, "stdout", "stderr"))
	return joinErrs(errs)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Address == "" {
		errs = append(errs, "address cannot be empty when metrics are enabled")
	}
	if m.Path == "" {
		errs = append(errs, "path cannot be empty when metrics are enabled")
	}
	return joinErrs(errs)
}

// Validate validates security settings.
func (s *SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"passkit/actions"
	"passkit/adapters/jsonfile"
	mem "passkit/adapters/memory"
	redisAdapter "passkit/adapters/redis"
	sqlxAdapter "passkit/adapters/sqlx"
	"passkit/analytics"
	"passkit/api/httpapi"
	"passkit/config"
	"passkit/engine"
	"passkit/integrations"
	"passkit/pass"
	"passkit/passkit"
	"passkit/quests"
	"passkit/realtime"
	"passkit/rewards"
)

// cliFlags carries command line overrides into the providers.
type cliFlags struct {
	ConfigFile string
	Profile    string
	PassesDir  string
	Rewards    string
	Quests     string
}

// App aggregates the assembled server components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Engine    *passkit.Engine
	Analytics *analytics.Service
	Handler   http.Handler
	Server    *http.Server
}

func provideConfig(flags cliFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case flags.ConfigFile != "":
		cfg, err = config.LoadFromFile(flags.ConfigFile)
	case flags.Profile != "":
		cfg, err = config.LoadProfile(flags.Profile)
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if flags.PassesDir != "" {
		cfg.Passes.Dir = flags.PassesDir
	}
	if flags.Rewards != "" {
		cfg.Passes.RewardsFile = flags.Rewards
	}
	if flags.Quests != "" {
		cfg.Passes.QuestsFile = flags.Quests
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(cfg *config.Config) (engine.Storage, func(), error) {
	return setupStorage(cfg)
}

func providePasses(cfg *config.Config, log *slog.Logger) (map[string]*pass.PassType, error) {
	passes, err := pass.LoadDir(cfg.Passes.Dir, log)
	if err != nil {
		return nil, err
	}
	if len(passes) == 0 {
		return nil, fmt.Errorf("no pass types found in %s", cfg.Passes.Dir)
	}
	return passes, nil
}

// Missing rewards or quests files leave those features empty.
func provideRewards(cfg *config.Config, log *slog.Logger) (*rewards.Cache, error) {
	c, err := rewards.Load(cfg.Passes.RewardsFile, cfg.Passes.RewardCacheSize, rewards.WithLogger(log))
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("rewards file not found, starting without rewards", "path", cfg.Passes.RewardsFile)
		return rewards.New(cfg.Passes.RewardCacheSize, rewards.WithLogger(log)), nil
	}
	return c, err
}

func provideQuests(cfg *config.Config, log *slog.Logger) (*quests.Index, error) {
	idx, err := quests.LoadFile(cfg.Passes.QuestsFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("quests file not found, starting without quests", "path", cfg.Passes.QuestsFile)
		return quests.EmptyIndex(), nil
	case err != nil && idx != nil:
		log.Warn("some quests were skipped", "error", err)
		return idx, nil
	}
	return idx, err
}

func providePresence(cfg *config.Config) (integrations.PresenceQuery, func(), error) {
	if cfg.Integrations.Presence != "redis" {
		return integrations.NewStaticPresence(cfg.Integrations.Systems...), func() {}, nil
	}
	store, err := redisAdapter.New(cfg.Integrations.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("presence: %w", err)
	}
	return integrations.NewRedisPresence(store.Client()), func() { _ = store.Close() }, nil
}

func provideAnalytics(cfg *config.Config, log *slog.Logger) (*analytics.Service, func()) {
	if !cfg.Analytics.Enabled {
		return nil, func() {}
	}
	exporters := analytics.MultiExporter{analytics.LogExporter{Log: log}}
	if cfg.Analytics.ExportEndpoint != "" {
		exporters = append(exporters, analytics.NewHTTPExporter(
			cfg.Analytics.ExportEndpoint, cfg.Analytics.ExportAPIKey, cfg.Analytics.BatchSize, nil))
	}
	svc := analytics.NewService(analytics.Config{Interval: cfg.Analytics.Interval, Exporter: exporters, Logger: log})
	return svc, func() {
		if err := svc.Close(); err != nil {
			log.Warn("analytics exporter close failed", "error", err)
		}
	}
}

func provideEngine(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	storage engine.Storage,
	passes map[string]*pass.PassType,
	rc *rewards.Cache,
	idx *quests.Index,
	presence integrations.PresenceQuery,
	hub *realtime.Hub,
	stats *analytics.Service,
) (*passkit.Engine, func(), error) {
	mode := engine.DispatchAsync
	if cfg.Settings.DispatchMode == "sync" {
		mode = engine.DispatchSync
	}
	opts := []passkit.Option{
		passkit.WithLogger(log),
		passkit.WithStorage(storage),
		passkit.WithDispatchMode(mode),
		passkit.WithWorkers(cfg.Settings.Workers),
		passkit.WithPasses(passes),
		passkit.WithRewards(rc),
		passkit.WithQuests(idx),
		passkit.WithRealtime(hub),
		passkit.WithPresence(presence),
		passkit.WithMessenger(actions.LogMessenger{Log: log}),
		passkit.WithPlayTime(cfg.Settings.EnablePlayTime),
		passkit.WithWebhooks(cfg.Integrations.Webhooks...),
		passkit.WithRegistryOptions(
			integrations.WithDisabledHooks(cfg.Settings.DisabledPluginHooks...),
			integrations.WithRetryInterval(cfg.Settings.HookRetryInterval),
			integrations.WithMaxAttempts(cfg.Settings.HookMaxAttempts),
		),
	}
	if stats != nil {
		opts = append(opts, passkit.WithAnalytics(stats))
	}
	e, err := passkit.New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	return e, e.Close, nil
}

func provideHandler(e *passkit.Engine, cfg *config.Config, log *slog.Logger) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		Placeholders:     e.Placeholders,
		Hooks:            e.Registry,
		Leaderboard:      e.Leaderboard,
		Logger:           log,
	}
	if e.Analytics != nil {
		opts.Stats = e.Analytics
	}
	return httpapi.NewMux(e.Service, e.Hub, opts)
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler).With("environment", string(cfg.Environment))
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter named in the configuration.
func setupStorage(cfg *config.Config) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), noop, nil
	case "redis":
		s, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sql":
		s, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

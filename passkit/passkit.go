// Package passkit assembles a ready-to-use progression engine: storage, event
// bus, progression service, quest handlers, action dispatcher, integration
// registry, realtime hub, leaderboard and season statistics.
package passkit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"passkit/actions"
	mem "passkit/adapters/memory"
	"passkit/analytics"
	"passkit/core"
	"passkit/engine"
	"passkit/integrations"
	"passkit/integrations/webhook"
	"passkit/leaderboard"
	"passkit/pass"
	"passkit/quests"
	"passkit/realtime"
	"passkit/rewards"
)

// VotifierHookName is the optional vote integration. Once present it feeds
// vote events to the quest tracker.
const VotifierHookName = "Votifier"

// HookSpec describes an additional optional integration to request at startup.
type HookSpec struct {
	Name      string
	Author    string
	Predicate integrations.VersionPredicate
	// Handlers builds the quest handlers enabled by the integration.
	Handlers func(t *quests.Tracker) []quests.Handler
}

// Option configures the builder.
type Option func(*config)

type config struct {
	storage      engine.Storage
	mode         engine.DispatchMode
	workers      int
	passes       map[string]*pass.PassType
	rewards      *rewards.Cache
	quests       *quests.Index
	hub          *realtime.Hub
	presence     integrations.PresenceQuery
	registryOpts []integrations.Option
	hooks        []HookSpec
	endpoints    []string
	httpClient   *http.Client
	messenger    actions.Messenger
	playTime     bool
	stats        *analytics.Service
	log          *slog.Logger
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithWorkers sets the number of async dispatch workers.
func WithWorkers(n int) Option { return func(c *config) { c.workers = n } }

// WithPasses registers the pass types. At least one is required.
func WithPasses(p map[string]*pass.PassType) Option { return func(c *config) { c.passes = p } }

func WithRewards(r *rewards.Cache) Option { return func(c *config) { c.rewards = r } }

func WithQuests(idx *quests.Index) Option { return func(c *config) { c.quests = idx } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithPresence sets how optional integrations are detected.
func WithPresence(p integrations.PresenceQuery) Option { return func(c *config) { c.presence = p } }

// WithRegistryOptions passes options through to the integration registry.
func WithRegistryOptions(opts ...integrations.Option) Option {
	return func(c *config) { c.registryOpts = append(c.registryOpts, opts...) }
}

// WithHook requests an additional optional integration.
func WithHook(h HookSpec) Option { return func(c *config) { c.hooks = append(c.hooks, h) } }

// WithWebhooks forwards every engine event to the given endpoints.
func WithWebhooks(endpoints ...string) Option {
	return func(c *config) { c.endpoints = append(c.endpoints, endpoints...) }
}

// WithHTTPClient sets the client used by webhook actions and forwarding.
func WithHTTPClient(h *http.Client) Option { return func(c *config) { c.httpClient = h } }

// WithMessenger sets where message actions are delivered.
func WithMessenger(m actions.Messenger) Option { return func(c *config) { c.messenger = m } }

// WithPlayTime enables the play time quest handler.
func WithPlayTime(enabled bool) Option { return func(c *config) { c.playTime = enabled } }

// WithAnalytics feeds engine events into season statistics.
func WithAnalytics(a *analytics.Service) Option { return func(c *config) { c.stats = a } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.log = l } }

// Engine holds the assembled components.
type Engine struct {
	Service      *engine.ProgressionService
	Tracker      *quests.Tracker
	Dispatcher   *actions.Dispatcher
	Registry     *integrations.Registry
	Placeholders *integrations.Placeholders
	Leaderboard  *leaderboard.Boards
	Rewards      *rewards.Cache
	Hub          *realtime.Hub
	Webhooks     *webhook.Sink
	Analytics    *analytics.Service

	closers []func()
}

// New builds an engine. If not provided, defaults are used:
//   - storage: in-memory
//   - dispatch: async
//   - rewards: empty cache
//   - quests: none
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if len(cfg.passes) == 0 {
		return nil, errors.New("passkit: at least one pass type is required")
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.rewards == nil {
		cfg.rewards = rewards.New(rewards.DefaultSize, rewards.WithLogger(cfg.log))
	}

	e := &Engine{Rewards: cfg.rewards, Leaderboard: leaderboard.NewBoards(), Hub: cfg.hub, Analytics: cfg.stats}

	bus := engine.NewEventBus(cfg.mode)
	if cfg.workers > 0 {
		bus = engine.NewEventBusWithWorkers(cfg.mode, cfg.workers)
	}

	// Placeholders need the service and the dispatcher needs placeholders,
	// so expansion is bound late.
	e.Dispatcher = actions.NewDispatcher(
		actions.WithLogger(cfg.log),
		actions.WithExpander(func(ctx context.Context, user core.UserID, text string) string {
			return e.Placeholders.Expand(ctx, user, text)
		}),
	)
	e.Service = engine.NewProgressionService(cfg.storage, bus, cfg.passes,
		engine.WithRewards(cfg.rewards),
		engine.WithActions(e.Dispatcher),
		engine.WithRanking(e.Leaderboard),
		engine.WithLogger(cfg.log),
	)
	e.closers = append(e.closers, e.Service.Close)
	e.Placeholders = integrations.NewPlaceholders(e.Service)

	sinkOpts := []webhook.Option{webhook.WithLogger(cfg.log)}
	if cfg.httpClient != nil {
		sinkOpts = append(sinkOpts, webhook.WithClient(cfg.httpClient))
	}
	e.Webhooks = webhook.New(cfg.endpoints, sinkOpts...)
	if cfg.messenger != nil {
		e.Dispatcher.Register(actions.TypeMessage, actions.Message(cfg.messenger))
	}
	e.Dispatcher.Register(actions.TypeWebhook, actions.Webhook(e.Webhooks))
	e.Dispatcher.Register(actions.TypeCurrency, actions.Currency(e.Service))
	e.Dispatcher.Register(actions.TypePoints, actions.Points(e.Service))

	if len(cfg.endpoints) > 0 {
		for _, typ := range core.EngineEvents {
			e.closers = append(e.closers, e.Service.Subscribe(typ, e.Webhooks.OnEvent))
		}
	}
	if cfg.hub != nil {
		e.closers = append(e.closers, cfg.hub.Attach(e.Service))
	}
	if cfg.stats != nil {
		e.closers = append(e.closers, cfg.stats.Attach(e.Service))
	}

	completer := quests.CompleterFunc(func(ctx context.Context, user core.UserID, q quests.Definition) error {
		return e.Service.CompleteQuest(ctx, user, q.ID, q.Points)
	})
	e.Tracker = quests.NewTracker(cfg.storage, completer, e.Service, cfg.quests)

	regOpts := append([]integrations.Option{integrations.WithLogger(cfg.log)}, cfg.registryOpts...)
	e.Registry = integrations.NewRegistry(bus, cfg.presence, regOpts...)
	e.closers = append(e.closers, e.Registry.Close)
	e.Registry.RegisterQuests(quests.Builtin(e.Tracker, quests.BuiltinOptions{PlayTime: cfg.playTime})...)
	e.Placeholders.Register(ctx, e.Registry)

	hooks := append([]HookSpec{{
		Name: VotifierHookName,
		Handlers: func(t *quests.Tracker) []quests.Handler {
			return []quests.Handler{quests.NewHandler(core.EventVote, t, quests.Once)}
		},
	}}, cfg.hooks...)
	for _, h := range hooks {
		e.requestHook(ctx, h)
	}
	return e, nil
}

func (e *Engine) requestHook(ctx context.Context, h HookSpec) {
	activate := func(context.Context) ([]quests.Handler, error) {
		if h.Handlers == nil {
			return nil, nil
		}
		return h.Handlers(e.Tracker), nil
	}
	if h.Predicate != nil {
		e.Registry.HookVersion(ctx, h.Name, h.Author, h.Predicate, activate)
		return
	}
	e.Registry.Hook(ctx, h.Name, h.Author, activate)
}

// Close stops hook retries, detaches subscribers and drains the event bus.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

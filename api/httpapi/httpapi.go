package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	wsadapter "passkit/adapters/websocket"
	"passkit/analytics"
	"passkit/core"
	"passkit/engine"
	"passkit/integrations"
	"passkit/leaderboard"
	"passkit/metrics"
	"passkit/realtime"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int

	// Optional surfaces; their routes are only mounted when set.
	Placeholders PlaceholderResolver
	Hooks        HookLister
	Leaderboard  LeaderboardSource
	Stats        StatsSource

	Logger *slog.Logger
}

type PlaceholderResolver interface {
	Resolve(ctx context.Context, user core.UserID, name string) string
}

type HookLister interface {
	Hooks() []integrations.HookStatus
}

type LeaderboardSource interface {
	Board(passID string) (*leaderboard.SkipList, bool)
	Passes() []string
}

type StatsSource interface {
	Snapshot() analytics.Snapshot
	Aggregated(period analytics.Period) []*analytics.AggregatedData
}

type api struct {
	svc  *engine.ProgressionService
	opts Options
	log  *slog.Logger
}

// NewMux builds an http.Handler exposing the pass REST API and WebSocket stream.
// Routes, relative to the prefix:
//   - GET  /healthz
//   - GET  /passes
//   - POST /users/{id}/enroll            {"pass_id": "premium"}
//   - GET  /users/{id}
//   - GET  /users/{id}/quests
//   - POST /users/{id}/points?delta=50
//   - GET  /users/{id}/tiers/{tier}?pass=premium
//   - POST /users/{id}/tiers/{tier}/claim
//   - POST /users/{id}/balance           {"op": "add", "amount": "100"}
//   - POST /events                       core.Event
//   - GET  /placeholders/{id}/{name}
//   - GET  /leaderboard/{pass}?n=10
//   - GET  /hooks
//   - GET  /stats
//   - GET  /stats/{period}               daily, weekly or monthly
//   - WS   /ws?user=alice
func NewMux(svc *engine.ProgressionService, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{svc: svc, opts: opts, log: opts.Logger}
	if a.log == nil {
		a.log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(a.logRequests)
	if opts.AllowCORSOrigin != "" {
		r.Use(withCORS(opts.AllowCORSOrigin))
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		r.Use(withRateLimit(opts.RateLimitRPM, opts.RateLimitBurst))
	}
	if len(opts.APIKeys) > 0 {
		r.Use(withAPIKeyAuth(opts.APIKeys))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	routes := func(r chi.Router) {
		r.Get("/healthz", a.healthCheck)
		r.Get("/passes", a.listPasses)

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", a.getUser)
			r.Post("/enroll", a.enroll)
			r.Get("/quests", a.getQuests)
			r.Post("/points", a.addPoints)
			r.Post("/balance", a.adjustBalance)
			r.Get("/tiers/{tier}", a.tierItem)
			r.Post("/tiers/{tier}/claim", a.claimTier)
		})

		r.Post("/events", a.ingestEvent)

		if opts.Placeholders != nil {
			r.Get("/placeholders/{id}/{name}", a.placeholder)
		}
		if opts.Leaderboard != nil {
			r.Get("/leaderboard/{pass}", a.leaderboard)
		}
		if opts.Hooks != nil {
			r.Get("/hooks", a.hooks)
		}
		if opts.Stats != nil {
			r.Get("/stats", a.stats)
			r.Get("/stats/{period}", a.statsPeriod)
		}
		if hub != nil {
			r.Handle("/ws", wsadapter.Handler(hub))
		}
	}
	if prefix := strings.TrimSuffix(opts.PathPrefix, "/"); prefix != "" {
		r.Route(prefix, routes)
	} else {
		routes(r)
	}
	return r
}

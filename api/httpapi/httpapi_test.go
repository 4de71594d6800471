package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "passkit/adapters/memory"
	"passkit/analytics"
	"passkit/core"
	"passkit/engine"
	"passkit/integrations"
	"passkit/leaderboard"
	"passkit/pass"
	"passkit/rewards"
)

const seasonYAML = `
name: Season One
required-permission: passkit.season
default-points-required: 100
items:
  locked-tier-item:
    material: RED_STAINED_GLASS_PANE
    name: "Tier %tier%"
  unlocked-tier-item:
    material: LIME_STAINED_GLASS_PANE
    name: "Tier %tier%"
  claimed-tier-item:
    material: GRAY_STAINED_GLASS_PANE
    name: "Tier %tier%"
tiers:
  '1':
    rewards: []
  '2':
    rewards: [sword-1]
  '3':
    required-points: 50
    rewards: []
  '4':
    rewards: []
`

type fakeHooks []integrations.HookStatus

func (f fakeHooks) Hooks() []integrations.HookStatus { return f }

func newTestService(t *testing.T, opts ...engine.Option) *engine.ProgressionService {
	t.Helper()
	pt, _, err := pass.Parse("season", []byte(seasonYAML))
	require.NoError(t, err)
	rc := rewards.New(16)
	rc.Put(rewards.Definition{ID: "sword-1", Type: "item", LoreAddon: []string{"+5 damage"}})
	opts = append([]engine.Option{engine.WithRewards(rc)}, opts...)
	svc := engine.NewProgressionService(mem.New(), engine.NewEventBus(engine.DispatchSync), map[string]*pass.PassType{pt.ID: pt}, opts...)
	t.Cleanup(svc.Close)
	return svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestEnrollAndGetUser(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})

	rec := do(t, h, http.MethodPost, "/api/users/Alice/enroll", `{"pass_id":"season"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	u := decode[UserView](t, rec)
	assert.Equal(t, core.UserID("alice"), u.UserID)
	assert.Equal(t, 1, u.Tier)
	assert.Equal(t, []int{1}, u.Pending["season"])

	rec = do(t, h, http.MethodPost, "/api/users/alice/enroll", `{"pass_id":"season"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/users/bob/enroll", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decode[apiError](t, rec)
	assert.Equal(t, "invalid_request", e.Code)

	rec = do(t, h, http.MethodGet, "/api/users/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", decode[UserView](t, rec).Points)

	rec = do(t, h, http.MethodGet, "/api/users/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddPointsAndClaim(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/users/alice/enroll", `{"pass_id":"season"}`).Code)

	rec := do(t, h, http.MethodPost, "/api/users/alice/points?delta=250", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	u := decode[UserView](t, rec)
	assert.Equal(t, 4, u.Tier)
	assert.Equal(t, "250", u.Points)
	assert.Equal(t, []int{1, 2, 3, 4}, u.Pending["season"])

	rec = do(t, h, http.MethodGet, "/api/users/alice/tiers/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "LIME_STAINED_GLASS_PANE", decode[pass.Item](t, rec).Material)

	rec = do(t, h, http.MethodPost, "/api/users/alice/tiers/2/claim", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claim := decode[claimResponse](t, rec)
	require.Len(t, claim.Rewards, 1)
	assert.Equal(t, "sword-1", claim.Rewards[0].ID)

	rec = do(t, h, http.MethodGet, "/api/users/alice/tiers/2?pass=season", "")
	assert.Equal(t, "GRAY_STAINED_GLASS_PANE", decode[pass.Item](t, rec).Material)

	rec = do(t, h, http.MethodPost, "/api/users/alice/tiers/2/claim", "")
	assert.Equal(t, "tier_not_pending", decode[apiError](t, rec).Code)
	rec = do(t, h, http.MethodPost, "/api/users/alice/tiers/9/claim", "")
	assert.Equal(t, "tier_not_reached", decode[apiError](t, rec).Code)
	rec = do(t, h, http.MethodPost, "/api/users/alice/tiers/zero/claim", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/users/alice/tiers/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddPointsValidation(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	do(t, h, http.MethodPost, "/api/users/alice/enroll", `{"pass_id":"season"}`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/users/alice/points?delta=bad", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/users/alice/points?delta=0", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/users/nobody/points?delta=5", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/users/%20", "").Code)
}

func TestAdjustBalance(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	do(t, h, http.MethodPost, "/api/users/alice/enroll", `{"pass_id":"season"}`)

	rec := do(t, h, http.MethodPost, "/api/users/alice/balance", `{"op":"add","amount":"123456789012345678901234567890"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "123456789012345678901234567890", decode[UserView](t, rec).Currency)

	rec = do(t, h, http.MethodPost, "/api/users/alice/balance", `{"op":"set","amount":"ten"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/users/alice/balance", `{"op":"steal","amount":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	e := decode[apiError](t, rec)
	assert.Contains(t, e.Details, "op")

	rec = do(t, h, http.MethodGet, "/api/users/alice", "")
	assert.Equal(t, "123456789012345678901234567890", decode[UserView](t, rec).Currency)
}

func TestIngestEvent(t *testing.T) {
	svc := newTestService(t)
	var got []core.Event
	svc.Subscribe(core.EventKillMob, func(_ context.Context, e core.Event) { got = append(got, e) })
	h := NewMux(svc, nil, Options{PathPrefix: "/api"})

	rec := do(t, h, http.MethodPost, "/api/events", `{"type":"kill_mob","user_id":" Alice ","subject":"zombie","amount":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, got, 1)
	assert.Equal(t, core.UserID("alice"), got[0].UserID)
	assert.Equal(t, "zombie", got[0].Subject)
	assert.Equal(t, int64(2), got[0].Amount)
	assert.NotEmpty(t, got[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/events", `{"user_id":"alice"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/events", `not json`).Code)
}

func TestIngestEventRefusesEngineEvents(t *testing.T) {
	svc := newTestService(t)
	forged := 0
	svc.Subscribe(core.EventTierUp, func(context.Context, core.Event) { forged++ })
	h := NewMux(svc, nil, Options{PathPrefix: "/api"})

	for _, typ := range core.EngineEvents {
		rec := do(t, h, http.MethodPost, "/api/events", `{"type":"`+string(typ)+`","user_id":"nobody","tier":99}`)
		require.Equal(t, http.StatusBadRequest, rec.Code, string(typ))
		assert.Equal(t, "invalid_input", decode[apiError](t, rec).Code)
	}
	assert.Zero(t, forged)
}

func TestIngestEventOnClosedBus(t *testing.T) {
	pt, _, err := pass.Parse("season", []byte(seasonYAML))
	require.NoError(t, err)
	bus := engine.NewEventBusWithWorkers(engine.DispatchAsync, 1)
	svc := engine.NewProgressionService(mem.New(), bus, map[string]*pass.PassType{pt.ID: pt})
	svc.Close()
	h := NewMux(svc, nil, Options{PathPrefix: "/api"})

	rec := do(t, h, http.MethodPost, "/api/events", `{"type":"login","user_id":"alice"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[apiError](t, rec).Code)
}

func TestOptionalSurfaces(t *testing.T) {
	boards := leaderboard.NewBoards()
	svc := newTestService(t, engine.WithRanking(boards))
	h := NewMux(svc, nil, Options{
		PathPrefix:   "/api",
		Placeholders: integrations.NewPlaceholders(svc),
		Leaderboard:  boards,
		Hooks:        fakeHooks{{Name: "Votifier", State: integrations.StateRetrying, Attempts: 3}},
	})
	ctx := context.Background()
	for _, u := range []core.UserID{"alice", "bob", "carol"} {
		_, err := svc.Enroll(ctx, u, "season")
		require.NoError(t, err)
	}
	_, err := svc.AddPoints(ctx, "bob", 150)
	require.NoError(t, err)
	_, err = svc.AddPoints(ctx, "carol", 20)
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/api/placeholders/bob/tier", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", decode[map[string]string](t, rec)["value"])

	rec = do(t, h, http.MethodGet, "/api/leaderboard/season?n=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[struct {
		Entries []leaderboardEntry `json:"entries"`
	}](t, rec)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, core.UserID("bob"), board.Entries[0].User)
	assert.Equal(t, core.UserID("carol"), board.Entries[1].User)
	assert.Equal(t, "20", board.Entries[1].Points)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/leaderboard/season?n=-1", "").Code)

	rec = do(t, h, http.MethodGet, "/api/hooks", "")
	assert.Contains(t, rec.Body.String(), `"state":"retrying"`)

	rec = do(t, h, http.MethodGet, "/api/passes", "")
	assert.Contains(t, rec.Body.String(), "season")
}

func TestOptionalSurfacesNotMounted(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{PathPrefix: "/api"})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/hooks", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/leaderboard/season", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/stats", "").Code)
}

func TestStats(t *testing.T) {
	svc := newTestService(t)
	stats := analytics.NewService(analytics.Config{})
	t.Cleanup(stats.Attach(svc))
	h := NewMux(svc, nil, Options{Stats: stats})

	ctx := context.Background()
	_, err := svc.Enroll(ctx, "alice", "season")
	require.NoError(t, err)
	_, err = svc.AddPoints(ctx, "alice", 150)
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[analytics.Snapshot](t, rec)
	require.NotNil(t, snap.Today)
	assert.Equal(t, int64(150), snap.Today.PointsAwarded)
	assert.Equal(t, int64(2), snap.Today.TiersReached)
	assert.Equal(t, 1, snap.Today.ActiveUsers)

	require.NoError(t, stats.Aggregator.AggregateNow(ctx))
	rec = do(t, h, http.MethodGet, "/stats/weekly", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"period":"weekly"`)
	assert.Contains(t, rec.Body.String(), `"points_awarded":150`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/stats/hourly", "").Code)
}

func TestHealthz(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{})
	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
}

func TestAPIKeyAuth(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{
		PathPrefix:      "/api",
		APIKeys:         []string{"secret"},
		AllowCORSOrigin: "*",
	})

	rec := do(t, h, http.MethodGet, "/api/passes", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/passes", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodOptions, "/api/passes", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := NewMux(newTestService(t), nil, Options{
		PathPrefix:       "/api",
		APIKeys:          []string{"k"},
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   1,
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/passes", nil)
		req.Header.Set("X-API-Key", "k")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

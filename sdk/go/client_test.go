package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "passkit/adapters/memory"
	"passkit/api/httpapi"
	"passkit/core"
	"passkit/engine"
	"passkit/integrations"
	"passkit/leaderboard"
	"passkit/pass"
	"passkit/realtime"
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
    rewards: []
`

// newTestServer runs the real API over an in-memory engine.
func newTestServer(t *testing.T) (*httptest.Server, *engine.ProgressionService) {
	t.Helper()
	pt, _, err := pass.Parse("season", []byte(seasonYAML))
	require.NoError(t, err)
	rc := rewards.New(16)
	rc.Put(rewards.Definition{ID: "sword-1", Type: "item"})
	boards := leaderboard.NewBoards()
	svc := engine.NewProgressionService(mem.New(), engine.NewEventBus(engine.DispatchSync),
		map[string]*pass.PassType{pt.ID: pt}, engine.WithRewards(rc), engine.WithRanking(boards))
	hub := realtime.NewHub()
	detach := hub.Attach(svc)
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:   "/api",
		APIKeys:      []string{"k1"},
		Placeholders: integrations.NewPlaceholders(svc),
		Leaderboard:  boards,
	}))
	t.Cleanup(func() {
		srv.Close()
		detach()
		svc.Close()
	})
	return srv, svc
}

func TestClientProgression(t *testing.T) {
	srv, _ := newTestServer(t)
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	u, err := client.Enroll(ctx, "alice", "season")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Tier)

	u, err = client.AddPoints(ctx, "alice", 120)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Tier)
	points, ok := u.PointsInt()
	require.True(t, ok)
	assert.Equal(t, int64(120), points.Int64())

	item, err := client.TierItem(ctx, "alice", "", 2)
	require.NoError(t, err)
	assert.Equal(t, "LIME_STAINED_GLASS_PANE", item.Material)
	assert.Equal(t, "Tier 2", item.Name)

	res, err := client.ClaimTier(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, res.Rewards, 1)
	assert.Equal(t, "sword-1", res.Rewards[0].ID)

	_, err = client.ClaimTier(ctx, "alice", 2)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "tier_not_pending", apiErr.Code)

	u, err = client.AdjustBalance(ctx, "alice", "add", "500")
	require.NoError(t, err)
	assert.Equal(t, "500", u.Currency)

	tier, err := client.Placeholder(ctx, "alice", "tier")
	require.NoError(t, err)
	assert.Equal(t, "2", tier)

	top, err := client.Leaderboard(ctx, "season", 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].UserID)

	passes, err := client.Passes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"season"}, passes)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClientSendEvent(t *testing.T) {
	srv, svc := newTestServer(t)
	var got []core.Event
	svc.Subscribe(core.EventVote, func(_ context.Context, e core.Event) { got = append(got, e) })

	client, err := NewClient(srv.URL+"/api", WithAuthToken("k1"))
	require.NoError(t, err)
	id, err := client.SendEvent(context.Background(), core.Event{Type: core.EventVote, UserID: "Bob"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, got, 1)
	assert.Equal(t, core.UserID("bob"), got[0].UserID)

	_, err = client.SendEvent(context.Background(), core.Event{Type: core.EventVote})
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestClientRejectsMissingKey(t *testing.T) {
	srv, _ := newTestServer(t)
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	_, err = client.GetUser(context.Background(), "alice")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = client.GetUser(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestClientSubscribeEvents(t *testing.T) {
	srv, svc := newTestServer(t)
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = svc.Enroll(ctx, "alice", "season")
	require.NoError(t, err)
	events, err := client.SubscribeEvents(ctx, "alice")
	require.NoError(t, err)

	// the server registers the subscription just after the handshake, so keep
	// producing events until one arrives
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt, ok := <-events:
			require.True(t, ok, "stream closed early")
			assert.Equal(t, core.UserID("alice"), evt.UserID)
			return
		case <-tick.C:
			_, err := svc.AddPoints(ctx, "alice", 1)
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "wss://example.test/api/ws", deriveWSURL("https://example.test/api"))
	assert.Equal(t, "ws://localhost:8080/ws", deriveWSURL("http://localhost:8080/"))
}

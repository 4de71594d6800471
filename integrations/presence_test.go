package integrations

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticPresence(t *testing.T) {
	p := NewStaticPresence(SystemInfo{Name: "Votifier", Enabled: true})
	info, ok := p.Lookup(context.Background(), "VOTIFIER")
	require.True(t, ok)
	assert.True(t, info.Enabled)

	p.Remove("votifier")
	_, ok = p.Lookup(context.Background(), "Votifier")
	assert.False(t, ok)
}

func TestRedisPresence(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	p := NewRedisPresence(client)
	ctx := context.Background()

	_, ok := p.Lookup(ctx, "ChestShop")
	assert.False(t, ok)

	require.NoError(t, p.Announce(ctx, SystemInfo{Name: "ChestShop", Enabled: true, Version: "3.9.2", Authors: []string{"Acrobot", "Tiny"}}))
	info, ok := p.Lookup(ctx, "chestshop")
	require.True(t, ok)
	assert.True(t, info.Enabled)
	assert.Equal(t, "3.9.2", info.Version)
	assert.Equal(t, []string{"Acrobot", "Tiny"}, info.Authors)

	// written by another process
	mr.HSet("system:votifier", "enabled", "1")
	info, ok = p.Lookup(ctx, "Votifier")
	require.True(t, ok)
	assert.True(t, info.Enabled)
	assert.Empty(t, info.Authors)

	require.NoError(t, p.Withdraw(ctx, "ChestShop"))
	_, ok = p.Lookup(ctx, "ChestShop")
	assert.False(t, ok)
}

func TestRegistryWithRedisPresence(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	presence := NewRedisPresence(client)
	sched := &manualScheduler{}
	reg := NewRegistry(newBus(), presence, WithScheduler(sched), WithMaxAttempts(3))
	ctx := context.Background()
	calls := 0

	require.Equal(t, StateRetrying, reg.HookVersion(ctx, "ChestShop", "Acrobot", AtLeast(3), noHandlers(&calls)))
	sched.tick()
	require.NoError(t, presence.Announce(ctx, SystemInfo{Name: "ChestShop", Enabled: true, Version: "3.9", Authors: []string{"Acrobot"}}))
	sched.tick()

	st, _ := reg.Status("ChestShop")
	assert.Equal(t, StateActivated, st.State)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, 1, calls)
}

package sqlx_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "passkit/adapters/sqlx"
	"passkit/core"
)

func newSQLiteStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := storage.DefaultConfig(storage.DriverSQLite)
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "passkit.db")
	store, err := storage.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLite_RoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, core.NewUser("alice", "premium")))
	require.ErrorIs(t, store.CreateUser(ctx, core.NewUser("alice", "premium")), core.ErrUserExists)

	_, err := store.UpdateUser(ctx, "alice", func(u *core.User) error {
		u.Currency.SetString("1000000000000000000000", 10)
		u.AddPending("premium", 2)
		u.Tier = 2
		return nil
	})
	require.NoError(t, err)

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", u.Currency.String())
	assert.Equal(t, 2, u.Tier)
	assert.Contains(t, u.PendingTiers("premium"), 2)
}

func TestSQLite_ConcurrentQuestProgress(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, core.NewUser("alice", "premium")))

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateQuest(ctx, "alice", "miner", func(st *core.QuestState) error {
				st.Type = core.EventBlockBreak
				st.Target = 100
				st.Progress += 2
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	quests, err := store.GetQuests(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), quests["miner"].Progress)
}

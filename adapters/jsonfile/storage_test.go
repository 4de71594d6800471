package jsonfile

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"passkit/core"
)

func TestStorePersistAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	ctx := context.Background()

	store, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.CreateUser(ctx, core.NewUser("alice", "premium")); err != nil {
		t.Fatalf("create user: %v", err)
	}
	_, err = store.UpdateUser(ctx, "alice", func(u *core.User) error {
		u.Points.Add(u.Points, big.NewInt(250))
		u.Tier = 4
		u.AddPending("premium", 4)
		return nil
	})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if _, err := store.UpdateQuest(ctx, "alice", "miner", func(st *core.QuestState) error {
		st.Type = core.EventBlockBreak
		st.Target = 10
		st.Progress = 7
		return nil
	}); err != nil {
		t.Fatalf("update quest: %v", err)
	}

	// ensure file written
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file at %s", path)
	}

	// reload
	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	u, err := reloaded.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.Points.String() != "250" || u.Tier != 4 {
		t.Fatalf("unexpected user %+v", u)
	}
	if _, ok := u.PendingTiers("premium")[4]; !ok {
		t.Fatalf("expected tier 4 pending")
	}
	quests, err := reloaded.GetQuests(ctx, "alice")
	if err != nil {
		t.Fatalf("get quests: %v", err)
	}
	if quests["miner"].Progress != 7 {
		t.Fatalf("expected progress 7, got %d", quests["miner"].Progress)
	}
}

func TestStoreErrors(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "nested", "state.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.GetUser(ctx, "ghost"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := store.UpdateQuest(ctx, "ghost", "q", func(*core.QuestState) error { return nil }); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := store.CreateUser(ctx, core.NewUser("bob", "free")); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateUser(ctx, core.NewUser("bob", "free")); !errors.Is(err, core.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	boom := errors.New("boom")
	if _, err := store.UpdateUser(ctx, "bob", func(u *core.User) error { u.Tier = 9; return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if u, _ := store.GetUser(ctx, "bob"); u.Tier != 1 {
		t.Fatalf("failed update leaked: tier %d", u.Tier)
	}
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

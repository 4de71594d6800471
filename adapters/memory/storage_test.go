package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"passkit/core"
)

func TestMemoryStore(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateUser(ctx, core.NewUser("u", "premium")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateUser(ctx, core.NewUser("u", "premium")); !errors.Is(err, core.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	u, err := s.UpdateUser(ctx, "u", func(u *core.User) error {
		u.Points.SetInt64(5)
		u.AddPending("premium", 2)
		return nil
	})
	if err != nil || u.Points.Int64() != 5 {
		t.Fatalf("got %v %v", u.Points, err)
	}
	st, _ := s.GetUser(ctx, "u")
	if _, ok := st.PendingTiers("premium")[2]; !ok {
		t.Fatal("pending tier missing")
	}
}

func TestMemoryStoreMissingUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.GetUser(ctx, "ghost"); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := s.UpdateUser(ctx, "ghost", func(*core.User) error { return nil }); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := s.UpdateQuest(ctx, "ghost", "q", func(*core.QuestState) error { return nil }); !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMemoryStoreFailedUpdateLeavesStateUntouched(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, core.NewUser("u", "premium"))
	boom := errors.New("boom")
	_, err := s.UpdateUser(ctx, "u", func(u *core.User) error {
		u.Currency.SetInt64(1000)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	u, _ := s.GetUser(ctx, "u")
	if u.Currency.Sign() != 0 {
		t.Fatalf("currency mutated by failed update: %s", u.Currency)
	}
}

func TestMemoryStoreConcurrentQuestUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateUser(ctx, core.NewUser("u", "premium"))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpdateQuest(ctx, "u", "mine", func(st *core.QuestState) error {
				st.Type = core.EventBlockBreak
				st.Progress++
				return nil
			})
		}()
	}
	wg.Wait()
	quests, err := s.GetQuests(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if quests["mine"].Progress != 100 {
		t.Fatalf("lost updates: progress %d", quests["mine"].Progress)
	}
}

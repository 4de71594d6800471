package quests

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"passkit/core"
	"passkit/metrics"
)

// Store is the slice of engine storage the tracker needs.
type Store interface {
	GetUser(ctx context.Context, user core.UserID) (core.User, error)
	UpdateQuest(ctx context.Context, user core.UserID, questID string, fn func(*core.QuestState) error) (core.QuestState, error)
}

// Completer is notified once when a user finishes a quest.
type Completer interface {
	CompleteQuest(ctx context.Context, user core.UserID, quest Definition) error
}

// Publisher receives progress events.
type Publisher interface {
	Publish(ctx context.Context, ev core.Event)
}

var errQuestDone = errors.New("quest already completed")

// Tracker applies event-derived progress to quest state.
type Tracker struct {
	store     Store
	completer Completer
	publisher Publisher
	index     atomic.Pointer[Index]
	log       *slog.Logger
}

// NewTracker creates a tracker over idx. publisher may be nil.
func NewTracker(store Store, completer Completer, publisher Publisher, idx *Index) *Tracker {
	if store == nil || completer == nil {
		panic("NewTracker requires non-nil store and completer")
	}
	t := &Tracker{store: store, completer: completer, publisher: publisher, log: slog.Default()}
	if idx == nil {
		idx = EmptyIndex()
	}
	t.index.Store(idx)
	return t
}

// Reload swaps the quest configuration. Handlers keep their subscriptions.
func (t *Tracker) Reload(idx *Index) {
	if idx == nil {
		idx = EmptyIndex()
	}
	t.index.Store(idx)
}

// Index returns the active quest configuration.
func (t *Tracker) Index() *Index { return t.index.Load() }

// Apply adds amount to every matching active quest of the acting user.
func (t *Tracker) Apply(ctx context.Context, ev core.Event, amount int64) {
	idx := t.index.Load()
	if amount <= 0 || ev.UserID == "" || !idx.HasType(ev.Type) {
		return
	}
	user, err := t.store.GetUser(ctx, ev.UserID)
	if err != nil {
		if !errors.Is(err, core.ErrUserNotFound) {
			t.log.Warn("quest user lookup failed", "user_id", ev.UserID, "error", err)
		}
		return
	}
	for _, def := range idx.For(user.PassID, ev.Type) {
		if !def.Matches(ev) {
			continue
		}
		t.progress(ctx, user.ID, def, amount)
	}
}

func (t *Tracker) progress(ctx context.Context, user core.UserID, def Definition, amount int64) {
	var completedNow bool
	var applied int64
	st, err := t.store.UpdateQuest(ctx, user, def.ID, func(st *core.QuestState) error {
		completedNow, applied = false, 0
		if st.Completed {
			return errQuestDone
		}
		st.QuestID = def.ID
		st.Type = def.Type
		st.Target = def.Target
		applied = amount
		if remaining := st.Target - st.Progress; applied > remaining {
			applied = remaining
		}
		st.Progress += applied
		if st.Progress >= st.Target {
			st.Completed = true
			completedNow = true
		}
		return nil
	})
	if errors.Is(err, errQuestDone) {
		return
	}
	if err != nil {
		t.log.Warn("failed to update quest progress", "user_id", user, "quest_id", def.ID, "error", err)
		return
	}
	metrics.QuestProgress.WithLabelValues(def.ID).Add(float64(applied))
	if t.publisher != nil {
		t.publisher.Publish(ctx, core.NewQuestProgressed(user, st, applied))
	}
	if !completedNow {
		return
	}
	metrics.QuestsCompleted.WithLabelValues(def.ID).Inc()
	if err := t.completer.CompleteQuest(ctx, user, def); err != nil {
		t.log.Error("failed to complete quest", "user_id", user, "quest_id", def.ID, "error", err)
	}
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, user core.UserID, quest Definition) error

func (f CompleterFunc) CompleteQuest(ctx context.Context, user core.UserID, quest Definition) error {
	return f(ctx, user, quest)
}

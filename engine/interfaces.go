package engine

import (
	"context"

	"passkit/core"
)

// Storage abstracts persistence for pass progression.
//
// UpdateUser and UpdateQuest are atomic read-modify-write operations: fn sees
// the current value and its changes are stored only when it returns nil.
// Implementations may call fn more than once when they retry on contention.
type Storage interface {
	GetUser(ctx context.Context, user core.UserID) (core.User, error)
	CreateUser(ctx context.Context, user core.User) error
	UpdateUser(ctx context.Context, user core.UserID, fn func(*core.User) error) (core.User, error)
	UpdateQuest(ctx context.Context, user core.UserID, questID string, fn func(*core.QuestState) error) (core.QuestState, error)
	GetQuests(ctx context.Context, user core.UserID) (map[string]core.QuestState, error)
}

// ActionExecutor performs configured tier-up side effects.
type ActionExecutor interface {
	Execute(ctx context.Context, action core.Action, user core.User, tier int) error
}

// Ranking receives tier and points updates for leaderboards.
type Ranking interface {
	Update(user core.User)
}

package memory

import (
	"context"
	"sync"
	"time"

	"passkit/core"
)

// Store is a concurrent in-memory Storage implementation. Each user and each
// (user, quest) entry has its own lock, so unrelated updates never contend.
type Store struct {
	users  sync.Map // map[core.UserID]*userRecord
	quests sync.Map // map[questKey]*questRecord
}

type userRecord struct {
	mu   sync.Mutex
	user core.User
}

type questKey struct {
	user  core.UserID
	quest string
}

type questRecord struct {
	mu    sync.Mutex
	state core.QuestState
}

func New() *Store { return &Store{} }

func (s *Store) record(user core.UserID) (*userRecord, bool) {
	v, ok := s.users.Load(user)
	if !ok {
		return nil, false
	}
	return v.(*userRecord), true
}

func (s *Store) GetUser(_ context.Context, user core.UserID) (core.User, error) {
	rec, ok := s.record(user)
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.user.Clone(), nil
}

func (s *Store) CreateUser(_ context.Context, user core.User) error {
	rec := &userRecord{user: user.Clone()}
	if _, loaded := s.users.LoadOrStore(user.ID, rec); loaded {
		return core.ErrUserExists
	}
	return nil
}

func (s *Store) UpdateUser(_ context.Context, user core.UserID, fn func(*core.User) error) (core.User, error) {
	rec, ok := s.record(user)
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next := rec.user.Clone()
	if err := fn(&next); err != nil {
		return core.User{}, err
	}
	next.ID = user
	next.Updated = time.Now().UTC()
	rec.user = next
	return next.Clone(), nil
}

func (s *Store) UpdateQuest(_ context.Context, user core.UserID, questID string, fn func(*core.QuestState) error) (core.QuestState, error) {
	if _, ok := s.record(user); !ok {
		return core.QuestState{}, core.ErrUserNotFound
	}
	v, _ := s.quests.LoadOrStore(questKey{user: user, quest: questID}, &questRecord{state: core.QuestState{QuestID: questID}})
	rec := v.(*questRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	next := rec.state
	if err := fn(&next); err != nil {
		return core.QuestState{}, err
	}
	next.QuestID = questID
	next.Updated = time.Now().UTC()
	rec.state = next
	return next, nil
}

func (s *Store) GetQuests(_ context.Context, user core.UserID) (map[string]core.QuestState, error) {
	if _, ok := s.record(user); !ok {
		return nil, core.ErrUserNotFound
	}
	out := map[string]core.QuestState{}
	s.quests.Range(func(k, v any) bool {
		key := k.(questKey)
		if key.user != user {
			return true
		}
		rec := v.(*questRecord)
		rec.mu.Lock()
		st := rec.state
		rec.mu.Unlock()
		if st.Type != "" {
			out[key.quest] = st
		}
		return true
	})
	return out, nil
}

var _ interface {
	GetUser(context.Context, core.UserID) (core.User, error)
	CreateUser(context.Context, core.User) error
	UpdateUser(context.Context, core.UserID, func(*core.User) error) (core.User, error)
	UpdateQuest(context.Context, core.UserID, string, func(*core.QuestState) error) (core.QuestState, error)
	GetQuests(context.Context, core.UserID) (map[string]core.QuestState, error)
} = (*Store)(nil)

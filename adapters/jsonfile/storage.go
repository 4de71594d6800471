package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"passkit/core"
	"passkit/engine"
)

// Store persists every user and quest to a single JSON file.
// Suitable for demos and small deployments: one lock guards everything and
// each write rewrites the file.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data document
}

type document struct {
	Users  map[core.UserID]core.User                  `json:"users"`
	Quests map[core.UserID]map[string]core.QuestState `json:"quests"`
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: document{
		Users:  map[core.UserID]core.User{},
		Quests: map[core.UserID]map[string]core.QuestState{},
	}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	for k, v := range doc.Users {
		s.data.Users[k] = v
	}
	for k, v := range doc.Quests {
		s.data.Quests[k] = v
	}
	return nil
}

// persist writes to a temp file and renames it over the target.
func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) GetUser(_ context.Context, user core.UserID) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.Users[user]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *Store) CreateUser(_ context.Context, user core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Users[user.ID]; ok {
		return core.ErrUserExists
	}
	s.data.Users[user.ID] = user.Clone()
	if err := s.persist(); err != nil {
		delete(s.data.Users, user.ID)
		return err
	}
	return nil
}

func (s *Store) UpdateUser(_ context.Context, user core.UserID, fn func(*core.User) error) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data.Users[user]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	next := prev.Clone()
	if err := fn(&next); err != nil {
		return core.User{}, err
	}
	next.ID = user
	next.Updated = time.Now().UTC()
	s.data.Users[user] = next
	if err := s.persist(); err != nil {
		s.data.Users[user] = prev
		return core.User{}, err
	}
	return next.Clone(), nil
}

func (s *Store) UpdateQuest(_ context.Context, user core.UserID, questID string, fn func(*core.QuestState) error) (core.QuestState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Users[user]; !ok {
		return core.QuestState{}, core.ErrUserNotFound
	}
	quests := s.data.Quests[user]
	if quests == nil {
		quests = map[string]core.QuestState{}
		s.data.Quests[user] = quests
	}
	prev, existed := quests[questID]
	next := prev
	next.QuestID = questID
	if err := fn(&next); err != nil {
		return core.QuestState{}, err
	}
	next.QuestID = questID
	next.Updated = time.Now().UTC()
	quests[questID] = next
	if err := s.persist(); err != nil {
		if existed {
			quests[questID] = prev
		} else {
			delete(quests, questID)
		}
		return core.QuestState{}, err
	}
	return next, nil
}

func (s *Store) GetQuests(_ context.Context, user core.UserID) (map[string]core.QuestState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Users[user]; !ok {
		return nil, core.ErrUserNotFound
	}
	out := make(map[string]core.QuestState, len(s.data.Quests[user]))
	for id, st := range s.data.Quests[user] {
		out[id] = st
	}
	return out, nil
}

var _ engine.Storage = (*Store)(nil)

// Package leaderboard ranks users within a pass by tier, then points.
package leaderboard

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"passkit/core"
	"passkit/engine"
)

// Entry represents a ranked user.
type Entry struct {
	User   core.UserID `json:"user_id"`
	PassID string      `json:"pass_id"`
	Tier   int         `json:"tier"`
	Points *big.Int    `json:"points"`
	// Updated is the user snapshot time; older snapshots never replace newer ones.
	Updated time.Time `json:"updated"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(user core.User)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
}

// Boards keeps one board per pass and follows users that switch passes.
type Boards struct {
	mu     sync.RWMutex
	byPass map[string]*SkipList
	placed map[core.UserID]placement
}

type placement struct {
	passID  string
	updated time.Time
}

func NewBoards() *Boards {
	return &Boards{byPass: map[string]*SkipList{}, placed: map[core.UserID]placement{}}
}

// Update implements engine.Ranking.
func (b *Boards) Update(u core.User) {
	if u.PassID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, ok := b.placed[u.ID]
	if ok && u.Updated.Before(prev.updated) {
		return
	}
	if ok && prev.passID != u.PassID {
		if old := b.byPass[prev.passID]; old != nil {
			old.Remove(u.ID)
		}
	}
	b.placed[u.ID] = placement{passID: u.PassID, updated: u.Updated}
	board := b.byPass[u.PassID]
	if board == nil {
		board = NewSkipList()
		b.byPass[u.PassID] = board
	}
	board.Update(u)
}

// Board returns the board for passID.
func (b *Boards) Board(passID string) (*SkipList, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.byPass[passID]
	return s, ok
}

// Passes lists the pass ids that have at least one ranked user.
func (b *Boards) Passes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.byPass))
	for id := range b.byPass {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var _ engine.Ranking = (*Boards)(nil)

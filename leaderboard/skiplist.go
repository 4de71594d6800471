package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/big"
	"math/rand/v2"
	"sync"

	"passkit/core"
)

// SkipList orders entries by tier desc, points desc, then user id asc.
// Every link records how many bottom-level nodes it jumps over, so both
// updates and rank lookups run in O(log n).

const (
	maxLevel = 16
	pFactor  = 0.25
)

type link struct {
	to   *node
	span int
}

type node struct {
	e     Entry
	links [maxLevel]link
}

type SkipList struct {
	mu     sync.RWMutex
	head   *node
	height int
	size   int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	return &SkipList{
		head:   &node{},
		height: 1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:]))),
	}
}

func (s *SkipList) coinFlips() int {
	h := 1
	for h < maxLevel && s.rng.Float64() < pFactor {
		h++
	}
	return h
}

// ahead reports whether a ranks strictly before b.
func ahead(a, b Entry) bool {
	if a.Tier != b.Tier {
		return a.Tier > b.Tier
	}
	if c := a.Points.Cmp(b.Points); c != 0 {
		return c > 0
	}
	return a.User < b.User
}

// path walks towards e and returns, per level, the last node ranked ahead
// of e together with that node's 0-based position (head is 0).
func (s *SkipList) path(e Entry) (prev [maxLevel]*node, pos [maxLevel]int) {
	cur, at := s.head, 0
	for lv := s.height - 1; lv >= 0; lv-- {
		for l := cur.links[lv]; l.to != nil && ahead(l.to.e, e); l = cur.links[lv] {
			at += l.span
			cur = l.to
		}
		prev[lv], pos[lv] = cur, at
	}
	return prev, pos
}

// Update inserts or moves user to its current tier and points. A snapshot
// older than the ranked one is ignored.
func (s *SkipList) Update(u core.User) {
	points := new(big.Int)
	if u.Points != nil {
		points.Set(u.Points)
	}
	e := Entry{User: u.ID, PassID: u.PassID, Tier: u.Tier, Points: points, Updated: u.Updated}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[u.ID]; ok {
		if u.Updated.Before(old.e.Updated) {
			return
		}
		s.unlink(old)
	}

	prev, pos := s.path(e)
	h := s.coinFlips()
	for lv := s.height; lv < h; lv++ {
		prev[lv], pos[lv] = s.head, 0
		s.head.links[lv] = link{span: s.size}
	}
	if h > s.height {
		s.height = h
	}

	n := &node{e: e}
	for lv := 0; lv < h; lv++ {
		before := pos[0] - pos[lv]
		p := prev[lv]
		n.links[lv] = link{to: p.links[lv].to, span: p.links[lv].span - before}
		p.links[lv] = link{to: n, span: before + 1}
	}
	for lv := h; lv < s.height; lv++ {
		prev[lv].links[lv].span++
	}
	s.size++
	s.byUser[u.ID] = n
}

func (s *SkipList) unlink(n *node) {
	prev, _ := s.path(n.e)
	if prev[0].links[0].to != n {
		return
	}
	for lv := 0; lv < s.height; lv++ {
		p := prev[lv]
		if p.links[lv].to == n {
			p.links[lv] = link{to: n.links[lv].to, span: p.links[lv].span + n.links[lv].span - 1}
		} else {
			p.links[lv].span--
		}
	}
	for s.height > 1 && s.head.links[s.height-1].to == nil {
		s.head.links[s.height-1] = link{}
		s.height--
	}
	s.size--
	delete(s.byUser, n.e.User)
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.unlink(n)
	}
}

// TopN returns copies of the first n entries.
func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, min(n, s.size))
	for cur := s.head.links[0].to; cur != nil && len(out) < n; cur = cur.links[0].to {
		out = append(out, cur.e.clone())
	}
	return out
}

func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byUser[user]; ok {
		return n.e.clone(), true
	}
	return Entry{}, false
}

// Rank returns the 1-based position of user.
func (s *SkipList) Rank(user core.UserID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[user]
	if !ok {
		return 0, false
	}
	_, pos := s.path(n.e)
	return pos[0] + 1, true
}

// At returns the entry holding the 1-based rank.
func (s *SkipList) At(rank int) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rank < 1 || rank > s.size {
		return Entry{}, false
	}
	cur, at := s.head, 0
	for lv := s.height - 1; lv >= 0; lv-- {
		for l := cur.links[lv]; l.to != nil && at+l.span <= rank; l = cur.links[lv] {
			at += l.span
			cur = l.to
		}
		if at == rank {
			return cur.e.clone(), true
		}
	}
	return Entry{}, false
}

// Len is the number of ranked users.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (e Entry) clone() Entry {
	e.Points = new(big.Int).Set(e.Points)
	return e
}

var _ Board = (*SkipList)(nil)

package core

import (
	"errors"
	"math/big"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the progression domain.
type UserID string

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUserExists     = errors.New("user already enrolled")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrUnknownPass    = errors.New("unknown pass type")
	ErrTierNotReached = errors.New("tier not reached")
	ErrTierNotPending = errors.New("tier already claimed")
	ErrUnknownTier    = errors.New("unknown tier")
)

// User is a snapshot of a user's pass progression.
// Stores hand out clones; mutate only inside a storage update callback.
type User struct {
	ID       UserID   `json:"user_id"`
	PassID   string   `json:"pass_id"`
	Points   *big.Int `json:"points"`
	Currency *big.Int `json:"currency"`
	Tier     int      `json:"tier"`
	// Pending maps a pass id to the tiers reached but not yet claimed.
	// A nil inner set means nothing was ever recorded for that pass.
	Pending map[string]map[int]struct{} `json:"pending,omitempty"`
	Updated time.Time                   `json:"updated"`
}

// NewUser returns a fresh tier 1 user enrolled in passID.
func NewUser(id UserID, passID string) User {
	return User{
		ID:       id,
		PassID:   passID,
		Points:   new(big.Int),
		Currency: new(big.Int),
		Tier:     1,
		Pending:  map[string]map[int]struct{}{},
		Updated:  time.Now().UTC(),
	}
}

// Clone returns a deep copy of the user.
func (u User) Clone() User {
	cp := u
	cp.Points = cloneInt(u.Points)
	cp.Currency = cloneInt(u.Currency)
	if u.Pending != nil {
		cp.Pending = make(map[string]map[int]struct{}, len(u.Pending))
		for pass, tiers := range u.Pending {
			if tiers == nil {
				cp.Pending[pass] = nil
				continue
			}
			set := make(map[int]struct{}, len(tiers))
			for t := range tiers {
				set[t] = struct{}{}
			}
			cp.Pending[pass] = set
		}
	}
	return cp
}

// HasPass reports whether the user is enrolled in passID.
func (u User) HasPass(passID string) bool {
	return u.PassID != "" && u.PassID == passID
}

// PendingTiers returns the pending set for passID, nil when none was recorded.
func (u User) PendingTiers(passID string) map[int]struct{} {
	if u.Pending == nil {
		return nil
	}
	return u.Pending[passID]
}

// AddPending marks tier as reached but unclaimed for passID.
func (u *User) AddPending(passID string, tier int) {
	if u.Pending == nil {
		u.Pending = map[string]map[int]struct{}{}
	}
	set := u.Pending[passID]
	if set == nil {
		set = map[int]struct{}{}
		u.Pending[passID] = set
	}
	set[tier] = struct{}{}
}

// RemovePending reports whether tier was pending for passID and removes it.
func (u *User) RemovePending(passID string, tier int) bool {
	set := u.PendingTiers(passID)
	if _, ok := set[tier]; !ok {
		return false
	}
	delete(set, tier)
	return true
}

// QuestState is a user's progress on a single quest.
type QuestState struct {
	QuestID   string    `json:"quest_id"`
	Type      EventType `json:"type"`
	Target    int64     `json:"target"`
	Progress  int64     `json:"progress"`
	Completed bool      `json:"completed"`
	Updated   time.Time `json:"updated"`
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

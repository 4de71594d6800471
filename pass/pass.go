// Package pass models pass types and their tier ladders.
package pass

import (
	"math/big"
	"sort"
	"strconv"
	"strings"

	"passkit/core"
	"passkit/rewards"
)

// RewardLookup resolves reward definitions by id.
type RewardLookup interface {
	Get(id string) (rewards.Definition, bool)
}

// Tier is one rung of a pass type's ladder.
type Tier struct {
	Number int
	// RequiredPoints is the increment over the previous tier.
	RequiredPoints int64
	// Explicit reports whether RequiredPoints came from configuration.
	Explicit  bool
	RewardIDs []string
	items     map[ItemState]Item
}

// Item returns the tier specific override for state, if one is configured.
func (t *Tier) Item(state ItemState) (Item, bool) {
	it, ok := t.items[state]
	if !ok || it.unset() {
		return Item{}, false
	}
	return it, true
}

// PassType is an immutable pass definition. It is safe for concurrent reads.
type PassType struct {
	ID                    string
	Name                  string
	RequiredPermission    string
	DefaultPointsRequired int64
	TierUpActions         []core.Action

	tiers map[int]*Tier
	order []int
	items map[ItemState]Item
}

// Tier returns the configured tier n.
func (p *PassType) Tier(n int) (*Tier, bool) {
	t, ok := p.tiers[n]
	return t, ok
}

// Tiers returns the configured tiers in ascending order.
func (p *PassType) Tiers() []*Tier {
	out := make([]*Tier, 0, len(p.order))
	for _, n := range p.order {
		out = append(out, p.tiers[n])
	}
	return out
}

// MaxTier is the highest configured tier number, 1 when none are configured.
func (p *PassType) MaxTier() int {
	if len(p.order) == 0 {
		return 1
	}
	if highest := p.order[len(p.order)-1]; highest > 1 {
		return highest
	}
	return 1
}

// requiredFor is the increment needed to reach tier n from n-1.
func (p *PassType) requiredFor(n int) int64 {
	if t, ok := p.tiers[n]; ok {
		return t.RequiredPoints
	}
	return p.DefaultPointsRequired
}

// CumulativePoints sums the increments of tiers 2..maxTier. Tier 1 is free.
func (p *PassType) CumulativePoints(maxTier int) *big.Int {
	total := new(big.Int)
	step := new(big.Int)
	for n := 2; n <= maxTier; n++ {
		total.Add(total, step.SetInt64(p.requiredFor(n)))
	}
	return total
}

// TierForPoints returns the highest tier whose cumulative threshold is
// covered by points, bounded by MaxTier.
func (p *PassType) TierForPoints(points *big.Int) int {
	if points == nil {
		return 1
	}
	tier := 1
	total := new(big.Int)
	step := new(big.Int)
	for n := 2; n <= p.MaxTier(); n++ {
		total.Add(total, step.SetInt64(p.requiredFor(n)))
		if total.Cmp(points) > 0 {
			break
		}
		tier = n
	}
	return tier
}

// State picks the display state of tier for user.
func (p *PassType) State(user core.User, tier int, hasTier bool) ItemState {
	hasPass := user.HasPass(p.ID)
	pending := user.PendingTiers(p.ID)
	_, isPending := pending[tier]
	hasClaimed := hasPass && pending != nil && !isPending

	if _, ok := p.items[StateDoesntHavePass]; ok && !hasPass {
		return StateDoesntHavePass
	}
	switch {
	case !hasTier:
		return StateLocked
	case hasClaimed:
		return StateClaimed
	default:
		return StateUnlocked
	}
}

// ResolveTierItem renders the icon for tier as seen by user. The returned
// item is a fresh copy; templates are never modified.
func (p *PassType) ResolveTierItem(lookup RewardLookup, user core.User, tier *Tier, hasTier bool) Item {
	state := p.State(user, tier.Number, hasTier)
	num := strconv.Itoa(tier.Number)

	item := p.items[state].clone(num)
	if override, ok := tier.Item(state); ok {
		item = override.clone(num)
	}
	if item.Lore == nil {
		return item
	}

	lore := make([]string, 0, len(item.Lore))
	for _, line := range item.Lore {
		if !strings.Contains(line, LoreAddonToken) {
			lore = append(lore, line)
			continue
		}
		for _, id := range tier.RewardIDs {
			if lookup == nil {
				break
			}
			if def, ok := lookup.Get(id); ok {
				lore = append(lore, def.LoreAddon...)
			}
		}
	}
	item.Lore = lore
	return item
}

func newPassType(id string) *PassType {
	return &PassType{
		ID:    id,
		tiers: map[int]*Tier{},
		items: map[ItemState]Item{},
	}
}

func (p *PassType) addTier(t *Tier) {
	if _, exists := p.tiers[t.Number]; !exists {
		p.order = append(p.order, t.Number)
		sort.Ints(p.order)
	}
	p.tiers[t.Number] = t
}

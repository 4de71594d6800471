package pass

import "strings"

// UnsetMaterial marks a per-tier item override as not configured.
const UnsetMaterial = "DIRT"

// LoreAddonToken is replaced by the lore addons of a tier's rewards.
const LoreAddonToken = "%lore_addon%"

// ItemState selects which display template a tier is rendered with.
type ItemState string

const (
	StateDoesntHavePass ItemState = "doesnt-have-pass-item"
	StateLocked         ItemState = "locked-tier-item"
	StateUnlocked       ItemState = "unlocked-tier-item"
	StateClaimed        ItemState = "claimed-tier-item"
)

// Item is the wire representation of a tier icon.
type Item struct {
	Material string   `yaml:"material" json:"material"`
	Name     string   `yaml:"name" json:"name,omitempty"`
	Amount   int      `yaml:"amount" json:"amount,omitempty"`
	Lore     []string `yaml:"lore" json:"lore,omitempty"`
}

func (i Item) unset() bool {
	return i.Material == "" || strings.EqualFold(i.Material, UnsetMaterial)
}

// clone copies the item and substitutes %tier% with the tier number.
func (i Item) clone(tier string) Item {
	cp := i
	cp.Name = strings.ReplaceAll(i.Name, "%tier%", tier)
	if i.Lore != nil {
		cp.Lore = make([]string, len(i.Lore))
		for n, line := range i.Lore {
			cp.Lore[n] = strings.ReplaceAll(line, "%tier%", tier)
		}
	}
	return cp
}

package pass

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"passkit/core"
)

var validate = validator.New()

type passFile struct {
	Name                  string               `yaml:"name" validate:"required"`
	RequiredPermission    string               `yaml:"required-permission" validate:"required"`
	DefaultPointsRequired int64                `yaml:"default-points-required" validate:"gte=0"`
	TierUpActions         []string             `yaml:"tier-up-actions"`
	Items                 map[string]Item      `yaml:"items"`
	Tiers                 map[string]yaml.Node `yaml:"tiers"`
}

type tierFile struct {
	RequiredPoints   *int64   `yaml:"required-points" validate:"omitempty,gte=0"`
	Rewards          []string `yaml:"rewards"`
	LockedTierItem   *Item    `yaml:"locked-tier-item"`
	UnlockedTierItem *Item    `yaml:"unlocked-tier-item"`
	ClaimedTierItem  *Item    `yaml:"claimed-tier-item"`
}

// LoadReport lists entries skipped while loading a pass type.
type LoadReport struct {
	Skipped []string
}

func (r *LoadReport) skip(format string, args ...any) {
	r.Skipped = append(r.Skipped, fmt.Sprintf(format, args...))
}

// Parse builds a pass type from YAML. A missing name or permission fails the
// whole pass type; malformed tiers and actions are skipped and reported.
func Parse(id string, b []byte) (*PassType, LoadReport, error) {
	var report LoadReport
	var f passFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, report, fmt.Errorf("pass %s: %w", id, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, report, fmt.Errorf("pass %s: %w", id, err)
	}

	p := newPassType(id)
	p.Name = f.Name
	p.RequiredPermission = f.RequiredPermission
	p.DefaultPointsRequired = f.DefaultPointsRequired

	for key, it := range f.Items {
		switch state := ItemState(key); state {
		case StateDoesntHavePass, StateLocked, StateUnlocked, StateClaimed:
			p.items[state] = it
		default:
			report.skip("items.%s: unknown item state", key)
		}
	}

	keys := make([]string, 0, len(f.Tiers))
	for key := range f.Tiers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		node := f.Tiers[key]
		n, ok := parseTierKey(key)
		if !ok {
			report.skip("tiers.%s: tier key is not a non-negative integer", key)
			continue
		}
		var tf tierFile
		if err := node.Decode(&tf); err != nil {
			report.skip("tiers.%s: %v", key, err)
			continue
		}
		if err := validate.Struct(tf); err != nil {
			report.skip("tiers.%s: %v", key, err)
			continue
		}
		t := &Tier{
			Number:         n,
			RequiredPoints: f.DefaultPointsRequired,
			RewardIDs:      append([]string(nil), tf.Rewards...),
			items:          map[ItemState]Item{},
		}
		if tf.RequiredPoints != nil {
			t.RequiredPoints = *tf.RequiredPoints
			t.Explicit = true
		}
		for state, it := range map[ItemState]*Item{
			StateLocked:   tf.LockedTierItem,
			StateUnlocked: tf.UnlockedTierItem,
			StateClaimed:  tf.ClaimedTierItem,
		} {
			if it != nil {
				t.items[state] = *it
			}
		}
		p.addTier(t)
	}

	for i, raw := range f.TierUpActions {
		a, err := core.ParseAction(raw)
		if err != nil {
			report.skip("tier-up-actions[%d]: %v", i, err)
			continue
		}
		p.TierUpActions = append(p.TierUpActions, a)
	}
	return p, report, nil
}

func parseTierKey(key string) (int, bool) {
	if key == "" {
		return 0, false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(key)
	if err != nil {
		return 0, false
	}
	return n, true
}

// LoadFile parses a single pass file; the pass id is the file name without extension.
func LoadFile(path string) (*PassType, LoadReport, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, LoadReport{}, fmt.Errorf("read pass %s: %w", path, err)
	}
	base := filepath.Base(path)
	return Parse(strings.TrimSuffix(base, filepath.Ext(base)), b)
}

// LoadDir loads every .yml/.yaml file in dir. Pass types that fail to load
// are logged and left out; the returned error covers unreadable directories
// and the case where nothing could be loaded.
func LoadDir(dir string, log *slog.Logger) (map[string]*PassType, error) {
	if log == nil {
		log = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pass directory %s: %w", dir, err)
	}
	out := map[string]*PassType{}
	var failures []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		p, report, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Error("failed to load pass type", "file", e.Name(), "error", err)
			failures = append(failures, err.Error())
			continue
		}
		for _, msg := range report.Skipped {
			log.Warn("skipped pass entry", "pass_id", p.ID, "reason", msg)
		}
		out[p.ID] = p
		log.Info("loaded pass type", "pass_id", p.ID, "tiers", len(p.order))
	}
	if len(out) == 0 && len(failures) > 0 {
		return nil, errors.New(strings.Join(failures, "; "))
	}
	return out, nil
}

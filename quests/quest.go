// Package quests turns host domain events into quest progress.
package quests

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"passkit/core"
)

// AnyPass keys quests that apply to every pass type.
const AnyPass = "*"

var validate = validator.New()

// Definition is a configured quest.
type Definition struct {
	ID     string         `yaml:"id" json:"id" validate:"required"`
	Type   core.EventType `yaml:"type" json:"type" validate:"required"`
	Target int64          `yaml:"target" json:"target" validate:"gt=0"`
	// Points are awarded once when the quest completes.
	Points int64 `yaml:"points" json:"points" validate:"gte=0"`
	// Subjects optionally restricts the event subject (block, mob, item...).
	Subjects []string `yaml:"subjects" json:"subjects,omitempty"`
}

// Matches reports whether ev qualifies for the quest.
func (d Definition) Matches(ev core.Event) bool {
	if ev.Type != d.Type {
		return false
	}
	if len(d.Subjects) == 0 {
		return true
	}
	for _, s := range d.Subjects {
		if strings.EqualFold(s, ev.Subject) {
			return true
		}
	}
	return false
}

// Index is an immutable lookup of quests by pass id and event type.
type Index struct {
	byPass map[string]map[core.EventType][]Definition
	types  map[core.EventType]struct{}
	count  int
}

// NewIndex builds an index from pass id -> definitions. Invalid definitions
// and duplicate ids within a pass are rejected.
func NewIndex(byPass map[string][]Definition) (*Index, error) {
	idx := &Index{
		byPass: map[string]map[core.EventType][]Definition{},
		types:  map[core.EventType]struct{}{},
	}
	var errs []string
	for passID, defs := range byPass {
		seen := map[string]struct{}{}
		for _, d := range defs {
			if err := validate.Struct(d); err != nil {
				errs = append(errs, fmt.Sprintf("%s/%s: %v", passID, d.ID, err))
				continue
			}
			if _, dup := seen[d.ID]; dup {
				errs = append(errs, fmt.Sprintf("%s/%s: duplicate quest id", passID, d.ID))
				continue
			}
			seen[d.ID] = struct{}{}
			m := idx.byPass[passID]
			if m == nil {
				m = map[core.EventType][]Definition{}
				idx.byPass[passID] = m
			}
			m[d.Type] = append(m[d.Type], d)
			idx.types[d.Type] = struct{}{}
			idx.count++
		}
	}
	if len(errs) > 0 {
		return idx, errors.New(strings.Join(errs, "; "))
	}
	return idx, nil
}

// EmptyIndex has no quests configured.
func EmptyIndex() *Index {
	idx, _ := NewIndex(nil)
	return idx
}

// HasType reports whether any pass configures a quest of typ.
func (i *Index) HasType(typ core.EventType) bool {
	_, ok := i.types[typ]
	return ok
}

// For returns the quests of typ active for passID, including AnyPass quests.
func (i *Index) For(passID string, typ core.EventType) []Definition {
	own := i.byPass[passID][typ]
	shared := i.byPass[AnyPass][typ]
	if len(shared) == 0 || passID == AnyPass {
		return own
	}
	if len(own) == 0 {
		return shared
	}
	out := make([]Definition, 0, len(own)+len(shared))
	out = append(out, own...)
	return append(out, shared...)
}

// Len is the number of indexed quests.
func (i *Index) Len() int { return i.count }

// LoadFile reads quests from YAML shaped as `quests: {pass-id: [definition...]}`.
func LoadFile(path string) (*Index, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quests %s: %w", path, err)
	}
	return ParseYAML(b)
}

// ParseYAML parses quest configuration. Invalid entries are reported in the
// error while valid ones are still indexed.
func ParseYAML(b []byte) (*Index, error) {
	var doc struct {
		Quests map[string][]Definition `yaml:"quests"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return NewIndex(doc.Quests)
}

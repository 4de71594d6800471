package core

import (
	"fmt"
	"strings"
)

// Action is a configured side effect, written as "[type] value".
type Action struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ParseAction parses an action descriptor. A descriptor without a
// bracketed type is treated as a "message" action.
func ParseAction(s string) (Action, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Action{}, fmt.Errorf("empty action")
	}
	if !strings.HasPrefix(s, "[") {
		return Action{Type: "message", Value: s}, nil
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return Action{}, fmt.Errorf("unterminated action type in %q", s)
	}
	typ := strings.ToLower(strings.TrimSpace(s[1:end]))
	if typ == "" {
		return Action{}, fmt.Errorf("empty action type in %q", s)
	}
	return Action{Type: typ, Value: strings.TrimSpace(s[end+1:])}, nil
}

// Expand substitutes the per-user placeholders in the action value.
func (a Action) Expand(user User, tier int) string {
	r := strings.NewReplacer(
		"%player%", string(user.ID),
		"%user%", string(user.ID),
		"%tier%", fmt.Sprint(tier),
		"%pass_id%", user.PassID,
	)
	return r.Replace(a.Value)
}

func (a Action) String() string {
	return "[" + a.Type + "] " + a.Value
}

package integrations

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"passkit/core"
	"passkit/pass"
	"passkit/quests"
)

const (
	// PlaceholderHookName is the immediate hook that exposes placeholders.
	PlaceholderHookName = "PlaceholderAPI"
	// PlaceholderPrefix namespaces placeholder tokens in text: %passkit_tier%.
	PlaceholderPrefix = "passkit"

	UnknownUser        = "??? User not present"
	MissingUser        = "???"
	InvalidPlaceholder = "Invalid Placeholder"
)

var placeholderToken = regexp.MustCompile(`%` + PlaceholderPrefix + `_([a-z_]+)%`)

// UserSource is what placeholder resolution reads from.
type UserSource interface {
	GetUser(ctx context.Context, user core.UserID) (core.User, error)
	PassType(id string) (*pass.PassType, bool)
}

// Placeholders renders per-user values for chat and UI text.
type Placeholders struct {
	users UserSource
	log   *slog.Logger
}

func NewPlaceholders(users UserSource) *Placeholders {
	return &Placeholders{users: users, log: slog.Default()}
}

// Resolve returns the value of placeholder name for user. It never fails;
// problems are reported in the returned text.
func (p *Placeholders) Resolve(ctx context.Context, user core.UserID, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "test" {
		return "successful"
	}
	if strings.TrimSpace(string(user)) == "" {
		p.log.Warn("could not resolve placeholder without a user", "placeholder", name)
		return MissingUser
	}
	u, err := p.users.GetUser(ctx, user)
	if err != nil {
		if !errors.Is(err, core.ErrUserNotFound) {
			p.log.Warn("placeholder user lookup failed", "user_id", user, "error", err)
		}
		return UnknownUser
	}
	switch name {
	case "points", "experience":
		return core.FormatAmount(u.Points)
	case "tier":
		return strconv.Itoa(u.Tier)
	case "pass_type":
		if pt, ok := p.users.PassType(u.PassID); ok {
			return pt.Name
		}
		return u.PassID
	case "pass_id":
		return u.PassID
	case "balance", "currency":
		return core.FormatAmount(u.Currency)
	}
	return InvalidPlaceholder
}

// Expand replaces every %passkit_<name>% token in text.
func (p *Placeholders) Expand(ctx context.Context, user core.UserID, text string) string {
	return placeholderToken.ReplaceAllStringFunc(text, func(tok string) string {
		m := placeholderToken.FindStringSubmatch(tok)
		return p.Resolve(ctx, user, m[1])
	})
}

// Register exposes the placeholders through the registry as an immediate hook.
func (p *Placeholders) Register(ctx context.Context, reg *Registry) State {
	return reg.HookImmediate(ctx, PlaceholderHookName, func(context.Context) ([]quests.Handler, error) {
		return nil, nil
	})
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"passkit/core"
	"passkit/metrics"
	"passkit/pass"
	"passkit/rewards"
)

// Balance operations accepted by AdjustBalance.
const (
	BalanceAdd    = "add"
	BalanceRemove = "remove"
	BalanceSet    = "set"
)

var (
	ErrUnknownBalanceOp = errors.New("unknown balance operation")
	ErrEngineEvent      = errors.New("engine events cannot be submitted")
)

// ProgressionService wires storage, the event bus and the tier ladder into a
// cohesive API: points in, tiers and claims out.
type ProgressionService struct {
	storage Storage
	bus     *EventBus
	passes  map[string]*pass.PassType
	rewards pass.RewardLookup
	actions ActionExecutor
	ranking Ranking
	log     *slog.Logger
}

// Option configures a ProgressionService.
type Option func(*ProgressionService)

// WithRewards sets the reward lookup used by claims and tier items.
func WithRewards(r pass.RewardLookup) Option { return func(s *ProgressionService) { s.rewards = r } }

// WithActions sets the executor for tier-up actions.
func WithActions(a ActionExecutor) Option { return func(s *ProgressionService) { s.actions = a } }

// WithRanking sets the leaderboard updated after points change.
func WithRanking(r Ranking) Option { return func(s *ProgressionService) { s.ranking = r } }

func WithLogger(l *slog.Logger) Option {
	return func(s *ProgressionService) {
		if l != nil {
			s.log = l
		}
	}
}

func NewProgressionService(storage Storage, bus *EventBus, passes map[string]*pass.PassType, opts ...Option) *ProgressionService {
	if storage == nil || bus == nil {
		panic("NewProgressionService requires non-nil storage and bus")
	}
	byID := make(map[string]*pass.PassType, len(passes))
	for id, p := range passes {
		byID[strings.ToLower(id)] = p
	}
	s := &ProgressionService{storage: storage, bus: bus, passes: byID, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe convenience method.
func (s *ProgressionService) Subscribe(typ core.EventType, handler Handler) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *ProgressionService) Publish(ctx context.Context, ev core.Event) {
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	s.bus.Publish(ctx, ev)
}

// Submit delivers a host event and reports whether the bus accepted it.
// Engine event types are refused with ErrEngineEvent.
func (s *ProgressionService) Submit(ctx context.Context, ev core.Event) error {
	if core.IsEngineEvent(ev.Type) {
		return fmt.Errorf("%w: %q", ErrEngineEvent, ev.Type)
	}
	if err := s.bus.Submit(ctx, ev); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Bus exposes the underlying event bus.
func (s *ProgressionService) Bus() *EventBus { return s.bus }

// PassType returns the pass type registered under id.
func (s *ProgressionService) PassType(id string) (*pass.PassType, bool) {
	p, ok := s.passes[strings.ToLower(id)]
	return p, ok
}

// PassTypes returns the registered pass ids in sorted order.
func (s *ProgressionService) PassTypes() []string {
	ids := make([]string, 0, len(s.passes))
	for id := range s.passes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Enroll creates a tier 1 record for user in passID. Tier 1 starts pending.
func (s *ProgressionService) Enroll(ctx context.Context, user core.UserID, passID string) (core.User, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.User{}, err
	}
	pt, ok := s.PassType(passID)
	if !ok {
		return core.User{}, fmt.Errorf("%w: %q", core.ErrUnknownPass, passID)
	}
	u := core.NewUser(normalized, pt.ID)
	u.AddPending(pt.ID, 1)
	if err := s.storage.CreateUser(ctx, u); err != nil {
		return core.User{}, err
	}
	s.rank(u)
	return u, nil
}

func (s *ProgressionService) GetUser(ctx context.Context, user core.UserID) (core.User, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.User{}, err
	}
	return s.storage.GetUser(ctx, normalized)
}

func (s *ProgressionService) GetQuests(ctx context.Context, user core.UserID) (map[string]core.QuestState, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return s.storage.GetQuests(ctx, normalized)
}

// AddPoints adds delta points, recomputes the tier and fires tier-up side
// effects for every newly crossed tier.
func (s *ProgressionService) AddPoints(ctx context.Context, user core.UserID, delta int64) (core.User, error) {
	if delta <= 0 {
		return core.User{}, fmt.Errorf("%w: points delta must be positive", core.ErrInvalidAmount)
	}
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.User{}, err
	}

	var pt *pass.PassType
	var crossed []int
	updated, err := s.storage.UpdateUser(ctx, normalized, func(u *core.User) error {
		crossed = crossed[:0]
		p, ok := s.PassType(u.PassID)
		if !ok {
			return fmt.Errorf("%w: %q", core.ErrUnknownPass, u.PassID)
		}
		pt = p
		if u.Points == nil {
			u.Points = new(big.Int)
		}
		u.Points.Add(u.Points, big.NewInt(delta))
		next := p.TierForPoints(u.Points)
		for t := u.Tier + 1; t <= next; t++ {
			u.AddPending(p.ID, t)
			crossed = append(crossed, t)
		}
		if next > u.Tier {
			u.Tier = next
		}
		u.Updated = time.Now().UTC()
		return nil
	})
	if err != nil {
		return core.User{}, err
	}

	s.Publish(ctx, core.NewPointsAdded(normalized, delta, core.FormatAmount(updated.Points)))
	for _, t := range crossed {
		metrics.TierUps.WithLabelValues(pt.ID).Inc()
		s.log.Info("tier up", "user_id", normalized, "pass_id", pt.ID, "tier", t)
		s.Publish(ctx, core.NewTierUp(normalized, pt.ID, t))
		s.runTierUpActions(ctx, pt, updated, t)
	}
	s.rank(updated)
	return updated, nil
}

func (s *ProgressionService) runTierUpActions(ctx context.Context, pt *pass.PassType, user core.User, tier int) {
	if s.actions == nil {
		return
	}
	for _, a := range pt.TierUpActions {
		if err := s.actions.Execute(ctx, a, user, tier); err != nil {
			s.log.Warn("tier up action failed", "user_id", user.ID, "action", a.String(), "tier", tier, "error", err)
		}
	}
}

// CompleteQuest records a finished quest and awards its points.
func (s *ProgressionService) CompleteQuest(ctx context.Context, user core.UserID, questID string, points int64) error {
	s.Publish(ctx, core.NewQuestCompleted(user, questID, points))
	if points <= 0 {
		return nil
	}
	_, err := s.AddPoints(ctx, user, points)
	return err
}

// ClaimTier redeems a reached, unclaimed tier and returns its rewards.
// Reward ids missing from the cache are skipped.
func (s *ProgressionService) ClaimTier(ctx context.Context, user core.UserID, tier int) ([]rewards.Definition, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	var pt *pass.PassType
	if _, err := s.storage.UpdateUser(ctx, normalized, func(u *core.User) error {
		p, ok := s.PassType(u.PassID)
		if !ok {
			return fmt.Errorf("%w: %q", core.ErrUnknownPass, u.PassID)
		}
		pt = p
		if tier < 1 || tier > u.Tier {
			return fmt.Errorf("%w: tier %d, current %d", core.ErrTierNotReached, tier, u.Tier)
		}
		if !u.RemovePending(p.ID, tier) {
			return fmt.Errorf("%w: tier %d", core.ErrTierNotPending, tier)
		}
		u.Updated = time.Now().UTC()
		return nil
	}); err != nil {
		return nil, err
	}

	var out []rewards.Definition
	if t, ok := pt.Tier(tier); ok && s.rewards != nil {
		for _, id := range t.RewardIDs {
			if def, ok := s.rewards.Get(id); ok {
				out = append(out, def)
			}
		}
	}
	metrics.TierClaims.WithLabelValues(pt.ID).Inc()
	s.Publish(ctx, core.NewTierClaimed(normalized, pt.ID, tier))
	return out, nil
}

// AdjustBalance applies an administrative currency change. A malformed amount
// is rejected before any mutation.
func (s *ProgressionService) AdjustBalance(ctx context.Context, user core.UserID, op, amount string) (core.User, error) {
	op = strings.ToLower(strings.TrimSpace(op))
	switch op {
	case BalanceAdd, BalanceRemove, BalanceSet:
	default:
		return core.User{}, fmt.Errorf("%w: %q", ErrUnknownBalanceOp, op)
	}
	v, err := core.ParseNonNegativeAmount(amount)
	if err != nil {
		return core.User{}, err
	}
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.User{}, err
	}
	updated, err := s.storage.UpdateUser(ctx, normalized, func(u *core.User) error {
		if u.Currency == nil {
			u.Currency = new(big.Int)
		}
		switch op {
		case BalanceAdd:
			u.Currency.Add(u.Currency, v)
		case BalanceRemove:
			u.Currency.Sub(u.Currency, v)
		case BalanceSet:
			u.Currency.Set(v)
		}
		u.Updated = time.Now().UTC()
		return nil
	})
	if err != nil {
		return core.User{}, err
	}
	s.Publish(ctx, core.NewBalanceChanged(normalized, op, core.FormatAmount(updated.Currency)))
	return updated, nil
}

// TierItem resolves the display item of tier for user.
func (s *ProgressionService) TierItem(ctx context.Context, user core.UserID, passID string, tier int) (pass.Item, error) {
	pt, ok := s.PassType(passID)
	if !ok {
		return pass.Item{}, fmt.Errorf("%w: %q", core.ErrUnknownPass, passID)
	}
	t, ok := pt.Tier(tier)
	if !ok {
		return pass.Item{}, fmt.Errorf("%w: %d of %q", core.ErrUnknownTier, tier, pt.ID)
	}
	u, err := s.GetUser(ctx, user)
	if err != nil {
		return pass.Item{}, err
	}
	hasTier := u.HasPass(pt.ID) && u.Tier >= tier
	return pt.ResolveTierItem(s.rewards, u, t, hasTier), nil
}

func (s *ProgressionService) rank(u core.User) {
	if s.ranking != nil {
		s.ranking.Update(u)
	}
}

func (s *ProgressionService) Close() { s.bus.Close() }

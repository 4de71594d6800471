package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"passkit/core"
)

// SeasonMetrics accumulates progression KPIs from engine events.
type SeasonMetrics struct {
	mu sync.RWMutex

	// Active users keyed by day, ISO week and month.
	dailyActiveUsers   map[string]map[core.UserID]struct{}
	weeklyActiveUsers  map[string]map[core.UserID]struct{}
	monthlyActiveUsers map[string]map[core.UserID]struct{}

	pointsAwardedByDay   map[string]int64
	tiersReachedByDay    map[string]int64
	tiersClaimedByDay    map[string]int64
	questsCompletedByDay map[string]int64

	// pass id -> tier -> number of tier ups into it
	tierDistribution map[string]map[int]int
	questCompletions map[string]int64
	hooksActivated   []string
}

func NewSeasonMetrics() *SeasonMetrics {
	return &SeasonMetrics{
		dailyActiveUsers:     make(map[string]map[core.UserID]struct{}),
		weeklyActiveUsers:    make(map[string]map[core.UserID]struct{}),
		monthlyActiveUsers:   make(map[string]map[core.UserID]struct{}),
		pointsAwardedByDay:   make(map[string]int64),
		tiersReachedByDay:    make(map[string]int64),
		tiersClaimedByDay:    make(map[string]int64),
		questsCompletedByDay: make(map[string]int64),
		tierDistribution:     make(map[string]map[int]int),
		questCompletions:     make(map[string]int64),
	}
}

// OnEvent has the engine handler signature so it can subscribe directly.
func (m *SeasonMetrics) OnEvent(_ context.Context, e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := dayKey(e.Time)
	if e.UserID != "" {
		markActive(m.dailyActiveUsers, day, e.UserID)
		markActive(m.weeklyActiveUsers, weekKey(e.Time), e.UserID)
		markActive(m.monthlyActiveUsers, monthKey(e.Time), e.UserID)
	}

	switch e.Type {
	case core.EventPointsAdded:
		if e.Amount > 0 {
			m.pointsAwardedByDay[day] += e.Amount
		}
	case core.EventTierUp:
		m.tiersReachedByDay[day]++
		dist := m.tierDistribution[e.Subject]
		if dist == nil {
			dist = make(map[int]int)
			m.tierDistribution[e.Subject] = dist
		}
		dist[e.Tier]++
	case core.EventTierClaimed:
		m.tiersClaimedByDay[day]++
	case core.EventQuestCompleted:
		m.questsCompletedByDay[day]++
		m.questCompletions[e.Subject]++
	case core.EventHookActivated:
		if !slices.Contains(m.hooksActivated, e.Subject) {
			m.hooksActivated = append(m.hooksActivated, e.Subject)
		}
	}
}

func markActive(bucket map[string]map[core.UserID]struct{}, key string, user core.UserID) {
	users := bucket[key]
	if users == nil {
		users = make(map[core.UserID]struct{})
		bucket[key] = users
	}
	users[user] = struct{}{}
}

// ActiveUsers returns the number of distinct users seen in the bucket key
// of period, e.g. "2024-01-03", "2024-W01" or "2024-01".
func (m *SeasonMetrics) ActiveUsers(period Period, key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch period {
	case PeriodDaily:
		return len(m.dailyActiveUsers[key])
	case PeriodWeekly:
		return len(m.weeklyActiveUsers[key])
	case PeriodMonthly:
		return len(m.monthlyActiveUsers[key])
	}
	return 0
}

// day returns the per-day counters for one UTC day.
func (m *SeasonMetrics) day(key string) (points, reached, claimed, quests int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsAwardedByDay[key], m.tiersReachedByDay[key], m.tiersClaimedByDay[key], m.questsCompletedByDay[key]
}

// TierDistribution returns how many tier ups landed on each tier of passID.
func (m *SeasonMetrics) TierDistribution(passID string) map[int]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]int, len(m.tierDistribution[passID]))
	for tier, n := range m.tierDistribution[passID] {
		out[tier] = n
	}
	return out
}

// QuestCount is a quest id with its completion count.
type QuestCount struct {
	QuestID     string `json:"quest_id"`
	Completions int64  `json:"completions"`
}

// TopQuests returns the most completed quests, ties broken by id.
func (m *SeasonMetrics) TopQuests(limit int) []QuestCount {
	m.mu.RLock()
	out := make([]QuestCount, 0, len(m.questCompletions))
	for id, n := range m.questCompletions {
		out = append(out, QuestCount{QuestID: id, Completions: n})
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b QuestCount) int {
		if c := cmp.Compare(b.Completions, a.Completions); c != 0 {
			return c
		}
		return cmp.Compare(a.QuestID, b.QuestID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// HooksActivated lists the integration hooks seen activating, in order.
func (m *SeasonMetrics) HooksActivated() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.hooksActivated)
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }

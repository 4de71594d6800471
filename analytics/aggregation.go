package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Period represents the time buckets aggregation runs over.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods lists the supported periods.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if !slices.Contains(Periods, p) {
		return "", fmt.Errorf("unknown period %q", s)
	}
	return p, nil
}

// AggregatedData is one period's summary.
type AggregatedData struct {
	Period    Period    `json:"period"`
	Key       string    `json:"key"` // "2024-01-03", "2024-W01" or "2024-01"
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ActiveUsers     int   `json:"active_users"`
	PointsAwarded   int64 `json:"points_awarded"`
	TiersReached    int64 `json:"tiers_reached"`
	TiersClaimed    int64 `json:"tiers_claimed"`
	QuestsCompleted int64 `json:"quests_completed"`

	CreatedAt time.Time `json:"created_at"`
}

// span returns the bucket key and [start, end) range of period around now.
func span(period Period, now time.Time) (string, time.Time, time.Time) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case PeriodWeekly:
		sinceMonday := (int(now.Weekday()) + 6) % 7
		start := midnight.AddDate(0, 0, -sinceMonday)
		return weekKey(now), start, start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return monthKey(now), start, start.AddDate(0, 1, 0)
	default:
		return dayKey(now), midnight, midnight.AddDate(0, 0, 1)
	}
}

// Aggregator periodically rolls SeasonMetrics up into period summaries and
// hands each one to an Exporter.
type Aggregator struct {
	mu sync.RWMutex

	metrics  *SeasonMetrics
	exporter Exporter
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	byPeriod map[Period]map[string]*AggregatedData
}

func NewAggregator(metrics *SeasonMetrics, interval time.Duration, exporter Exporter, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	a := &Aggregator{
		metrics:  metrics,
		exporter: exporter,
		interval: interval,
		log:      log,
		now:      time.Now,
		byPeriod: make(map[Period]map[string]*AggregatedData, len(Periods)),
	}
	for _, p := range Periods {
		a.byPeriod[p] = make(map[string]*AggregatedData)
	}
	return a
}

// AggregateNow recomputes the current bucket of every period and exports it.
func (a *Aggregator) AggregateNow(ctx context.Context) error {
	now := a.now().UTC()
	out := make([]*AggregatedData, 0, len(Periods))
	a.mu.Lock()
	for _, p := range Periods {
		data := a.aggregate(p, now)
		a.byPeriod[p][data.Key] = data
		out = append(out, data)
	}
	a.mu.Unlock()

	if a.exporter == nil {
		return nil
	}
	for _, data := range out {
		if err := a.exporter.Export(ctx, data); err != nil {
			return fmt.Errorf("export %s %s: %w", data.Period, data.Key, err)
		}
	}
	return a.exporter.Flush(ctx)
}

func (a *Aggregator) aggregate(period Period, now time.Time) *AggregatedData {
	key, start, end := span(period, now)
	data := &AggregatedData{
		Period:      period,
		Key:         key,
		StartTime:   start,
		EndTime:     end,
		CreatedAt:   now,
		ActiveUsers: a.metrics.ActiveUsers(period, key),
	}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		points, reached, claimed, quests := a.metrics.day(dayKey(d))
		data.PointsAwarded += points
		data.TiersReached += reached
		data.TiersClaimed += claimed
		data.QuestsCompleted += quests
	}
	return data
}

// Get returns the stored summary for period and key.
func (a *Aggregator) Get(period Period, key string) (*AggregatedData, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.byPeriod[period][key]
	return data, ok
}

// All returns every stored summary of period, oldest first.
func (a *Aggregator) All(period Period) []*AggregatedData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*AggregatedData, 0, len(a.byPeriod[period]))
	for _, data := range a.byPeriod[period] {
		out = append(out, data)
	}
	slices.SortFunc(out, func(x, y *AggregatedData) int { return x.StartTime.Compare(y.StartTime) })
	return out
}

// Start aggregates immediately and then every interval until ctx is done.
func (a *Aggregator) Start(ctx context.Context) {
	if err := a.AggregateNow(ctx); err != nil {
		a.log.Warn("initial aggregation failed", "error", err)
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.AggregateNow(ctx); err != nil {
				a.log.Warn("periodic aggregation failed", "error", err)
			}
		}
	}
}

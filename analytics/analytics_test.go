package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passkit/core"
	"passkit/engine"
)

func at(typ core.EventType, user core.UserID, ts time.Time) core.Event {
	return core.Event{Type: typ, UserID: user, Time: ts}
}

func TestSeasonMetrics_OnEvent(t *testing.T) {
	m := NewSeasonMetrics()
	ctx := context.Background()
	now := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	pts := at(core.EventPointsAdded, "alice", now)
	pts.Amount = 100
	m.OnEvent(ctx, pts)

	up := at(core.EventTierUp, "alice", now)
	up.Subject, up.Tier = "premium", 2
	m.OnEvent(ctx, up)

	done := at(core.EventQuestCompleted, "bob", now)
	done.Subject = "break-stone"
	m.OnEvent(ctx, done)
	m.OnEvent(ctx, done)

	m.OnEvent(ctx, at(core.EventTierClaimed, "bob", now))
	hook := core.NewHookActivated("Votifier")
	m.OnEvent(ctx, hook)
	m.OnEvent(ctx, hook)

	day := "2024-01-03"
	points, reached, claimed, quests := m.day(day)
	assert.Equal(t, int64(100), points)
	assert.Equal(t, int64(1), reached)
	assert.Equal(t, int64(1), claimed)
	assert.Equal(t, int64(2), quests)
	assert.Equal(t, 2, m.ActiveUsers(PeriodDaily, day), "hook events carry no user")
	assert.Equal(t, map[int]int{2: 1}, m.TierDistribution("premium"))
	assert.Equal(t, []QuestCount{{QuestID: "break-stone", Completions: 2}}, m.TopQuests(5))
	assert.Equal(t, []string{"Votifier"}, m.HooksActivated())
}

func TestTopQuestsOrdering(t *testing.T) {
	m := NewSeasonMetrics()
	for id, n := range map[string]int{"b": 2, "a": 2, "c": 5, "d": 1} {
		for range n {
			ev := at(core.EventQuestCompleted, "u", time.Now())
			ev.Subject = id
			m.OnEvent(context.Background(), ev)
		}
	}
	got := m.TopQuests(3)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].QuestID)
	assert.Equal(t, "a", got[1].QuestID)
	assert.Equal(t, "b", got[2].QuestID)
}

func TestAggregatorWeeklyMonthly(t *testing.T) {
	m := NewSeasonMetrics()
	ctx := context.Background()
	base := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) // Wednesday

	e1 := at(core.EventPointsAdded, "alice", base)
	e1.Amount = 10
	e2 := at(core.EventPointsAdded, "bob", base.AddDate(0, 0, 1))
	e2.Amount = 20
	e3 := at(core.EventTierUp, "alice", base.AddDate(0, 0, 2))
	e3.Subject, e3.Tier = "premium", 2
	// Previous week, must not count towards this week.
	e4 := at(core.EventPointsAdded, "carol", base.AddDate(0, 0, -7))
	e4.Amount = 1000
	for _, ev := range []core.Event{e1, e2, e3, e4} {
		m.OnEvent(ctx, ev)
	}

	a := NewAggregator(m, time.Hour, nil, nil)
	a.now = func() time.Time { return base }
	require.NoError(t, a.AggregateNow(ctx))

	weekly, ok := a.Get(PeriodWeekly, "2024-W01")
	require.True(t, ok)
	assert.Equal(t, int64(30), weekly.PointsAwarded)
	assert.Equal(t, int64(1), weekly.TiersReached)
	assert.Equal(t, 2, weekly.ActiveUsers)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), weekly.StartTime)

	monthly, ok := a.Get(PeriodMonthly, "2024-01")
	require.True(t, ok)
	assert.Equal(t, int64(30), monthly.PointsAwarded)
	assert.Equal(t, 2, monthly.ActiveUsers)

	daily, ok := a.Get(PeriodDaily, "2024-01-03")
	require.True(t, ok)
	assert.Equal(t, int64(10), daily.PointsAwarded)
	assert.Equal(t, 1, daily.ActiveUsers)

	_, ok = a.Get(PeriodWeekly, "2023-W52")
	assert.False(t, ok)
}

func TestSpanWeekStartsMonday(t *testing.T) {
	sunday := time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC)
	key, start, end := span(PeriodWeekly, sunday)
	assert.Equal(t, "2024-W01", key)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), end)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("weekly")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeekly, p)
	_, err = ParsePeriod("hourly")
	assert.Error(t, err)
}

func TestHTTPExporterBatches(t *testing.T) {
	var (
		posts     atomic.Int32
		mu        sync.Mutex
		lastBatch []AggregatedData
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		mu.Lock()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&lastBatch))
		mu.Unlock()
		posts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	e := NewHTTPExporter(srv.URL, "secret", 2, srv.Client())
	ctx := context.Background()
	require.NoError(t, e.Export(ctx, &AggregatedData{Key: "a"}))
	assert.Equal(t, int32(0), posts.Load())
	require.NoError(t, e.Export(ctx, &AggregatedData{Key: "b"}))
	assert.Equal(t, int32(1), posts.Load())
	mu.Lock()
	assert.Len(t, lastBatch, 2)
	mu.Unlock()

	require.NoError(t, e.Export(ctx, &AggregatedData{Key: "c"}))
	require.NoError(t, e.Close())
	assert.Equal(t, int32(2), posts.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lastBatch, 1)
	assert.Equal(t, "c", lastBatch[0].Key)
}

func TestHTTPExporterKeepsBufferOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewHTTPExporter(srv.URL, "", 1, srv.Client())
	err := e.Export(context.Background(), &AggregatedData{Key: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Len(t, e.buffer, 1)
}

type countingExporter struct{ exports, flushes int }

func (c *countingExporter) Export(context.Context, *AggregatedData) error {
	c.exports++
	return nil
}
func (c *countingExporter) Flush(context.Context) error { c.flushes++; return nil }
func (c *countingExporter) Close() error                { return nil }

func TestServiceAttachAndSnapshot(t *testing.T) {
	bus := engine.NewEventBus(engine.DispatchSync)
	defer bus.Close()

	exp := &countingExporter{}
	svc := NewService(Config{Interval: time.Hour, Exporter: MultiExporter{exp, LogExporter{}}})
	detach := svc.Attach(bus)

	ctx := context.Background()
	bus.Publish(ctx, core.NewPointsAdded("alice", 40, "40"))
	bus.Publish(ctx, core.NewQuestCompleted("alice", "mine", 40))
	bus.Publish(ctx, core.NewTierUp("alice", "premium", 2))

	snap := svc.Snapshot()
	assert.Equal(t, int64(40), snap.Today.PointsAwarded)
	assert.Equal(t, int64(1), snap.Today.TiersReached)
	assert.Equal(t, 1, snap.Today.ActiveUsers)
	require.Len(t, snap.TopQuests, 1)

	require.NoError(t, svc.Aggregator.AggregateNow(ctx))
	assert.Equal(t, len(Periods), exp.exports)
	assert.Equal(t, 1, exp.flushes)
	assert.Len(t, svc.Aggregated(PeriodDaily), 1)

	detach()
	bus.Publish(ctx, core.NewPointsAdded("bob", 5, "5"))
	assert.Equal(t, int64(40), svc.Snapshot().Today.PointsAwarded)
	require.NoError(t, svc.Close())
}

// Package analytics derives season statistics from engine events.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"passkit/core"
	"passkit/engine"
)

// Subscriber is the part of the progression service analytics listens on.
type Subscriber interface {
	Subscribe(typ core.EventType, handler engine.Handler) func()
}

// Snapshot is the live view served to dashboards.
type Snapshot struct {
	Today          *AggregatedData `json:"today"`
	TopQuests      []QuestCount    `json:"top_quests"`
	HooksActivated []string        `json:"hooks_activated"`
}

// Service wires SeasonMetrics and an Aggregator together.
type Service struct {
	Metrics    *SeasonMetrics
	Aggregator *Aggregator
	exporter   Exporter
}

// Config tunes a Service.
type Config struct {
	Interval time.Duration
	Exporter Exporter
	Logger   *slog.Logger
}

func NewService(cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	m := NewSeasonMetrics()
	return &Service{
		Metrics:    m,
		Aggregator: NewAggregator(m, cfg.Interval, cfg.Exporter, cfg.Logger),
		exporter:   cfg.Exporter,
	}
}

// Attach subscribes to every engine event and returns the detach func.
func (s *Service) Attach(sub Subscriber) func() {
	unsubs := make([]func(), 0, len(core.EngineEvents))
	for _, typ := range core.EngineEvents {
		unsubs = append(unsubs, sub.Subscribe(typ, s.Metrics.OnEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Start runs periodic aggregation until ctx is done.
func (s *Service) Start(ctx context.Context) { s.Aggregator.Start(ctx) }

// Snapshot computes today's figures on demand.
func (s *Service) Snapshot() Snapshot {
	return Snapshot{
		Today:          s.Aggregator.aggregate(PeriodDaily, s.Aggregator.now()),
		TopQuests:      s.Metrics.TopQuests(10),
		HooksActivated: s.Metrics.HooksActivated(),
	}
}

// Aggregated returns the stored summaries of period.
func (s *Service) Aggregated(period Period) []*AggregatedData {
	return s.Aggregator.All(period)
}

// Close releases the exporter.
func (s *Service) Close() error {
	if s.exporter == nil {
		return nil
	}
	return s.exporter.Close()
}

// Command passkit-demo runs an in-memory season with simulated players so
// the REST API and the /ws stream can be explored without any host.
package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"passkit/analytics"
	"passkit/api/httpapi"
	"passkit/core"
	"passkit/engine"
	"passkit/integrations"
	"passkit/pass"
	"passkit/passkit"
	"passkit/quests"
	"passkit/realtime"
)

const demoPass = `
name: Demo Season
default-points-required: 50
tier-up-actions:
  - "[currency] 5"
  - "[message] %player% hit tier %tier%"
items:
  locked-tier-item:   {material: RED_STAINED_GLASS_PANE, name: "Tier %tier%"}
  unlocked-tier-item: {material: LIME_STAINED_GLASS_PANE, name: "Tier %tier%"}
  claimed-tier-item:  {material: GRAY_STAINED_GLASS_PANE, name: "Tier %tier%"}
tiers:
  '1': {rewards: []}
  '2': {rewards: []}
  '3': {rewards: []}
  '4': {rewards: []}
  '5': {rewards: []}
`

const demoQuests = `
quests:
  demo:
    - {id: miner, type: block_break, target: 20, points: 30}
    - {id: hunter, type: kill_mob, target: 5, points: 40}
    - {id: chatter, type: chat, target: 3, points: 10}
    - {id: voter, type: vote, target: 1, points: 25}
`

var players = []core.UserID{"alice", "bob", "carol"}

func main() {
	// Use readable text logging for development/demo
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, ":8080"); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string) error {
	pt, _, err := pass.Parse("demo", []byte(demoPass))
	if err != nil {
		return err
	}
	idx, err := quests.ParseYAML([]byte(demoQuests))
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	stats := analytics.NewService(analytics.Config{Interval: time.Minute})
	// The demo advertises a vote plugin so the Votifier hook activates.
	presence := integrations.NewStaticPresence(integrations.SystemInfo{Name: passkit.VotifierHookName, Enabled: true, Version: "2.7.3"})
	e, err := passkit.New(ctx,
		passkit.WithPasses(map[string]*pass.PassType{pt.ID: pt}),
		passkit.WithQuests(idx),
		passkit.WithRealtime(hub),
		passkit.WithPresence(presence),
		passkit.WithAnalytics(stats),
		passkit.WithDispatchMode(engine.DispatchAsync),
	)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, p := range players {
		if _, err := e.Service.Enroll(ctx, p, pt.ID); err != nil {
			return err
		}
	}
	go simulate(ctx, e.Service, time.Second)
	go stats.Start(ctx)

	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.NewMux(e.Service, hub, httpapi.Options{
			AllowCORSOrigin: "*",
			Placeholders:    e.Placeholders,
			Hooks:           e.Registry,
			Leaderboard:     e.Leaderboard,
			Stats:           stats,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	slog.Info("starting demo server", "address", addr, "players", players)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// simulate publishes a random host event for a random player every tick.
func simulate(ctx context.Context, svc *engine.ProgressionService, every time.Duration) {
	kinds := []core.EventType{core.EventBlockBreak, core.EventKillMob, core.EventChat, core.EventVote}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			user := players[rand.IntN(len(players))]
			kind := kinds[rand.IntN(len(kinds))]
			if err := svc.Submit(ctx, core.NewEvent(kind, user, "demo", int64(1+rand.IntN(3)))); err != nil {
				slog.Warn("simulated event not accepted", "error", err)
			}
		}
	}
}

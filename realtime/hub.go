// Package realtime fans engine events out to live subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"passkit/core"
	"passkit/engine"
)

// Subscription is a live event feed. An empty User receives every event.
type Subscription struct {
	ID     int
	User   core.UserID
	Events <-chan core.Event
}

type subscriber struct {
	user core.UserID
	ch   chan core.Event
}

// Hub is a simple pub/sub for broadcasting events to channels.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

// Subscribe registers a feed of events for user, or for everyone when user is empty.
func (h *Hub) Subscribe(user core.UserID, buffer int) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{user: user, ch: ch}
	return Subscription{ID: id, User: user, Events: ch}
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Subscribers returns the number of live feeds.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events discarded because a subscriber was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.user != "" && s.user != ev.UserID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// EventSource is where the hub takes its events from.
type EventSource interface {
	Subscribe(typ core.EventType, handler engine.Handler) func()
}

// Attach forwards every engine event from src. The returned func detaches.
func (h *Hub) Attach(src EventSource) func() {
	unsubs := make([]func(), 0, len(core.EngineEvents))
	for _, typ := range core.EngineEvents {
		unsubs = append(unsubs, src.Subscribe(typ, h.Broadcast))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}

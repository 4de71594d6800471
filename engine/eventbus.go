package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"passkit/core"
)

// ErrBusClosed is returned by Submit once the bus is shutting down.
var ErrBusClosed = errors.New("event bus closed")

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// Handler consumes a published event.
type Handler func(context.Context, core.Event)

type subscription struct {
	id  int64
	typ core.EventType
	fn  Handler
}

// EventBus provides thread-safe pub/sub with sync and async dispatch.
//
// In async mode events are sharded by user id so each user's events are
// handled by one worker in publish order; different users proceed in parallel.
type EventBus struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[core.EventType]map[int64]subscription
	nextID  int64
	shards  []chan core.Event
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	closing sync.Once
	// closeMu keeps enqueues from racing the final drain.
	closeMu sync.RWMutex
}

// NewEventBus creates a bus with four async workers.
func NewEventBus(mode DispatchMode) *EventBus {
	return NewEventBusWithWorkers(mode, 4)
}

// NewEventBusWithWorkers creates a bus with the given async worker count.
func NewEventBusWithWorkers(mode DispatchMode, workers int) *EventBus {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		mode:   mode,
		subs:   make(map[core.EventType]map[int64]subscription),
		ctx:    ctx,
		cancel: cancel,
	}
	if mode == DispatchAsync {
		eb.shards = make([]chan core.Event, workers)
		for i := range eb.shards {
			eb.shards[i] = make(chan core.Event, 512)
		}
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for _, queue := range e.shards {
		e.wg.Add(1)
		go func(queue chan core.Event) {
			defer e.wg.Done()
			for {
				select {
				case ev := <-queue:
					e.dispatchSync(context.Background(), ev)
				case <-e.ctx.Done():
					// drain what is already queued
					for {
						select {
						case ev := <-queue:
							e.dispatchSync(context.Background(), ev)
						default:
							return
						}
					}
				}
			}
		}(queue)
	}
}

// Close stops async workers after draining queued events. Safe to call twice.
func (e *EventBus) Close() {
	e.closing.Do(func() {
		e.closeMu.Lock()
		e.cancel()
		e.closeMu.Unlock()
		e.wg.Wait()
	})
}

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, typ: typ, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// Subscribers returns the number of handlers registered for typ.
func (e *EventBus) Subscribers(typ core.EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[typ])
}

// Publish sends an event to subscribers without blocking on a full async
// queue. It is meant for engine fan-out, which may run on a bus worker;
// such events are dropped with a warning when the shard is full.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode == DispatchAsync {
		e.closeMu.RLock()
		defer e.closeMu.RUnlock()
		if e.ctx.Err() != nil {
			return
		}
		select {
		case e.shard(ev) <- ev:
		default:
			slog.Warn("event queue full, dropping event", "type", ev.Type, "user_id", ev.UserID)
		}
		return
	}
	e.dispatchSync(ctx, ev)
}

// Submit delivers a host event, waiting for room in the async queue until
// ctx ends or the bus closes. A nil error means the event will be handled.
// Handlers must not call Submit: a worker waiting on its own shard never wakes.
func (e *EventBus) Submit(ctx context.Context, ev core.Event) error {
	if e.mode != DispatchAsync {
		e.dispatchSync(ctx, ev)
		return nil
	}
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.ctx.Err() != nil {
		return ErrBusClosed
	}
	select {
	case e.shard(ev) <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", ev.Type, ctx.Err())
	}
}

func (e *EventBus) shard(ev core.Event) chan core.Event {
	return e.shards[xxhash.Sum64String(string(ev.UserID))%uint64(len(e.shards))]
}

func (e *EventBus) dispatchSync(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	subs := e.subs[ev.Type]
	// copy to avoid holding lock during callbacks
	handlers := make([]Handler, 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		e.invoke(ctx, h, ev)
	}
}

func (e *EventBus) invoke(ctx context.Context, h Handler, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "type", ev.Type, "user_id", ev.UserID, "panic", r)
		}
	}()
	h(ctx, ev)
}

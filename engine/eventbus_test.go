package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"passkit/core"
)

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	bus.Subscribe(core.EventTierUp, func(ctx context.Context, e core.Event) { count++ })
	bus.Publish(context.Background(), core.NewTierUp("u", "premium", 2))
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	unsub := bus.Subscribe(core.EventChat, func(ctx context.Context, e core.Event) { count++ })
	if bus.Subscribers(core.EventChat) != 1 {
		t.Fatal("expected one subscriber")
	}
	unsub()
	bus.Publish(context.Background(), core.NewEvent(core.EventChat, "u", "", 1))
	if count != 0 {
		t.Fatalf("handler ran after unsubscribe")
	}
}

func TestEventBusRecoversHandlerPanics(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	ran := 0
	bus.Subscribe(core.EventChat, func(ctx context.Context, e core.Event) { panic("boom") })
	bus.Subscribe(core.EventChat, func(ctx context.Context, e core.Event) { ran++ })
	bus.Publish(context.Background(), core.NewEvent(core.EventChat, "u", "", 1))
	if ran != 1 {
		t.Fatalf("second handler should still run, ran=%d", ran)
	}
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.EventTierUp, func(ctx context.Context, e core.Event) { close(ch) })
	bus.Publish(context.Background(), core.NewTierUp("u", "premium", 2))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestEventBusAsyncKeepsPerUserOrder(t *testing.T) {
	bus := NewEventBusWithWorkers(DispatchAsync, 4)
	var mu sync.Mutex
	seen := map[core.UserID][]int64{}
	bus.Subscribe(core.EventBlockBreak, func(ctx context.Context, e core.Event) {
		mu.Lock()
		seen[e.UserID] = append(seen[e.UserID], e.Amount)
		mu.Unlock()
	})
	users := []core.UserID{"alice", "bob", "carol", "dave", "erin"}
	for i := int64(1); i <= 50; i++ {
		for _, u := range users {
			bus.Publish(context.Background(), core.NewEvent(core.EventBlockBreak, u, "stone", i))
		}
	}
	bus.Close()

	for _, u := range users {
		got := seen[u]
		if len(got) != 50 {
			t.Fatalf("%s: expected 50 events, got %d", u, len(got))
		}
		for i, v := range got {
			if v != int64(i+1) {
				t.Fatalf("%s: out of order at %d: %v", u, i, got)
			}
		}
	}
}

func TestEventBusSubmitWaitsForRoom(t *testing.T) {
	bus := NewEventBusWithWorkers(DispatchAsync, 1)
	gate := make(chan struct{})
	var handled atomic.Int64
	bus.Subscribe(core.EventBlockBreak, func(ctx context.Context, e core.Event) {
		<-gate
		handled.Add(1)
	})

	const total = 1000
	done := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			if err := bus.Submit(context.Background(), core.NewEvent(core.EventBlockBreak, "alice", "stone", 1)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	// let the shard fill up behind the blocked handler
	time.Sleep(50 * time.Millisecond)
	close(gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("submitter never finished")
	}
	bus.Close()
	if got := handled.Load(); got != total {
		t.Fatalf("want %d handled events, got %d", total, got)
	}
}

func TestEventBusSubmitHonoursContext(t *testing.T) {
	bus := NewEventBusWithWorkers(DispatchAsync, 1)
	gate := make(chan struct{})
	bus.Subscribe(core.EventBlockBreak, func(ctx context.Context, e core.Event) { <-gate })
	defer func() {
		close(gate)
		bus.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var err error
	for i := 0; i < 2000 && err == nil; i++ {
		err = bus.Submit(ctx, core.NewEvent(core.EventBlockBreak, "alice", "stone", 1))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded once the shard is full, got %v", err)
	}
}

func TestEventBusSubmitAfterClose(t *testing.T) {
	bus := NewEventBusWithWorkers(DispatchAsync, 2)
	bus.Close()
	if err := bus.Submit(context.Background(), core.NewEvent(core.EventLogin, "alice", "", 1)); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("want ErrBusClosed, got %v", err)
	}
}

func TestEventBusSubmitSyncDispatches(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	bus.Subscribe(core.EventLogin, func(ctx context.Context, e core.Event) { count++ })
	if err := bus.Submit(context.Background(), core.NewEvent(core.EventLogin, "alice", "", 1)); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
}

package quests

import (
	"context"

	"passkit/core"
	"passkit/metrics"
)

// Handler reacts to one host event type.
type Handler interface {
	Type() core.EventType
	Handle(ctx context.Context, ev core.Event)
}

// AmountFunc derives the progress an event is worth.
type AmountFunc func(ev core.Event) int64

// EventAmount is the event's own amount, or 1 when unset.
func EventAmount(ev core.Event) int64 {
	if ev.Amount > 0 {
		return ev.Amount
	}
	return 1
}

// Once counts every event as a single unit.
func Once(core.Event) int64 { return 1 }

// Distance reads whole blocks travelled from the "distance" metadata.
func Distance(ev core.Event) int64 {
	if d, ok := ev.MetaInt64("distance"); ok {
		return d
	}
	return ev.Amount
}

type handler struct {
	typ     core.EventType
	tracker *Tracker
	amount  AmountFunc
}

// NewHandler builds a handler for typ backed by tracker.
func NewHandler(typ core.EventType, tracker *Tracker, amount AmountFunc) Handler {
	if amount == nil {
		amount = EventAmount
	}
	return &handler{typ: typ, tracker: tracker, amount: amount}
}

func (h *handler) Type() core.EventType { return h.typ }

func (h *handler) Handle(ctx context.Context, ev core.Event) {
	if ev.Type != h.typ {
		return
	}
	metrics.EventsHandled.WithLabelValues(string(h.typ)).Inc()
	h.tracker.Apply(ctx, ev, h.amount(ev))
}

// BuiltinOptions toggles optional built-in handlers.
type BuiltinOptions struct {
	PlayTime bool
}

// Builtin returns one handler per built-in host event type.
func Builtin(tracker *Tracker, opts BuiltinOptions) []Handler {
	table := []struct {
		typ    core.EventType
		amount AmountFunc
	}{
		{core.EventBlockBreak, EventAmount},
		{core.EventBlockPlace, EventAmount},
		{core.EventChat, Once},
		{core.EventClick, Once},
		{core.EventConsume, EventAmount},
		{core.EventCraft, EventAmount},
		{core.EventDamage, EventAmount},
		{core.EventEnchant, EventAmount},
		{core.EventExecuteCommand, Once},
		{core.EventFishing, EventAmount},
		{core.EventGainExp, EventAmount},
		{core.EventItemBreak, Once},
		{core.EventKillMob, EventAmount},
		{core.EventKillPlayer, Once},
		{core.EventLogin, Once},
		{core.EventMilk, Once},
		{core.EventMove, Distance},
		{core.EventProjectile, EventAmount},
		{core.EventRegenerate, EventAmount},
		{core.EventRideMob, Distance},
		{core.EventShearSheep, Once},
		{core.EventSmelt, EventAmount},
		{core.EventTame, Once},
	}
	out := make([]Handler, 0, len(table)+1)
	for _, row := range table {
		out = append(out, NewHandler(row.typ, tracker, row.amount))
	}
	if opts.PlayTime {
		out = append(out, NewHandler(core.EventPlayTime, tracker, EventAmount))
	}
	return out
}

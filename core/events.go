package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates domain events.
type EventType string

// Host events delivered by the surrounding runtime; quests subscribe to these.
const (
	EventBlockBreak     EventType = "block_break"
	EventBlockPlace     EventType = "block_place"
	EventChat           EventType = "chat"
	EventClick          EventType = "click"
	EventConsume        EventType = "consume"
	EventCraft          EventType = "craft"
	EventDamage         EventType = "damage"
	EventEnchant        EventType = "enchant"
	EventExecuteCommand EventType = "execute_command"
	EventFishing        EventType = "fishing"
	EventGainExp        EventType = "gain_exp"
	EventItemBreak      EventType = "item_break"
	EventKillMob        EventType = "kill_mob"
	EventKillPlayer     EventType = "kill_player"
	EventLogin          EventType = "login"
	EventMilk           EventType = "milk"
	EventMove           EventType = "move"
	EventProjectile     EventType = "projectile"
	EventRegenerate     EventType = "regenerate"
	EventRideMob        EventType = "ride_mob"
	EventShearSheep     EventType = "shear_sheep"
	EventSmelt          EventType = "smelt"
	EventTame           EventType = "tame"
	EventPlayTime       EventType = "play_time"
	EventVote           EventType = "vote"
)

// Engine events emitted by the progression service.
const (
	EventQuestProgressed EventType = "quest_progressed"
	EventQuestCompleted  EventType = "quest_completed"
	EventPointsAdded     EventType = "points_added"
	EventTierUp          EventType = "tier_up"
	EventTierClaimed     EventType = "tier_claimed"
	EventBalanceChanged  EventType = "balance_changed"
	EventHookActivated   EventType = "hook_activated"
)

// EngineEvents lists the events worth forwarding to realtime subscribers.
var EngineEvents = []EventType{
	EventQuestProgressed,
	EventQuestCompleted,
	EventPointsAdded,
	EventTierUp,
	EventTierClaimed,
	EventBalanceChanged,
	EventHookActivated,
}

// IsEngineEvent reports whether typ is emitted only by the progression service.
func IsEngineEvent(typ EventType) bool {
	for _, t := range EngineEvents {
		if t == typ {
			return true
		}
	}
	return false
}

// Event represents an immutable domain event.
type Event struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	Time     time.Time      `json:"time"`
	UserID   UserID         `json:"user_id,omitempty"`
	Subject  string         `json:"subject,omitempty"`
	Amount   int64          `json:"amount,omitempty"`
	Total    string         `json:"total,omitempty"`
	Tier     int            `json:"tier,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEvent stamps a host event with an id and time.
func NewEvent(typ EventType, user UserID, subject string, amount int64) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: time.Now().UTC(), UserID: user, Subject: subject, Amount: amount}
}

func NewQuestProgressed(user UserID, st QuestState, delta int64) Event {
	ev := NewEvent(EventQuestProgressed, user, st.QuestID, delta)
	ev.Metadata = map[string]any{"progress": st.Progress, "target": st.Target}
	return ev
}

func NewQuestCompleted(user UserID, questID string, points int64) Event {
	return NewEvent(EventQuestCompleted, user, questID, points)
}

func NewPointsAdded(user UserID, delta int64, total string) Event {
	ev := NewEvent(EventPointsAdded, user, "", delta)
	ev.Total = total
	return ev
}

func NewTierUp(user UserID, passID string, tier int) Event {
	ev := NewEvent(EventTierUp, user, passID, 0)
	ev.Tier = tier
	return ev
}

func NewTierClaimed(user UserID, passID string, tier int) Event {
	ev := NewEvent(EventTierClaimed, user, passID, 0)
	ev.Tier = tier
	return ev
}

func NewBalanceChanged(user UserID, op string, total string) Event {
	ev := NewEvent(EventBalanceChanged, user, op, 0)
	ev.Total = total
	return ev
}

func NewHookActivated(name string) Event {
	return NewEvent(EventHookActivated, "", name, 0)
}

// Ensure fills in id and time for events built by hand or decoded from JSON.
func (e Event) Ensure() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}

// MetaInt64 reads an integer metadata value, accepting JSON-decoded floats.
func (e Event) MetaInt64(key string) (int64, bool) {
	switch v := e.Metadata[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

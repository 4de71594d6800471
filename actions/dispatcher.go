// Package actions executes the side effects configured for tier-ups.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"passkit/core"
	"passkit/engine"
	"passkit/metrics"
)

// Action types understood by the built-in executors.
const (
	TypeMessage  = "message"
	TypeLog      = "log"
	TypeWebhook  = "webhook"
	TypeCurrency = "currency"
	TypePoints   = "points"
)

var ErrUnknownAction = errors.New("unknown action type")

// Executor runs a single action type. The value has already been expanded.
type Executor interface {
	Run(ctx context.Context, user core.User, tier int, value string) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, user core.User, tier int, value string) error

func (f ExecutorFunc) Run(ctx context.Context, user core.User, tier int, value string) error {
	return f(ctx, user, tier, value)
}

// Expander substitutes external placeholders in an action value.
type Expander func(ctx context.Context, user core.UserID, text string) string

// Dispatcher routes actions to executors by type.
type Dispatcher struct {
	mu        sync.RWMutex
	executors map[string]Executor
	expand    Expander
	log       *slog.Logger
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithExpander runs e over every action value after the built-in substitutions.
func WithExpander(e Expander) Option { return func(d *Dispatcher) { d.expand = e } }

// NewDispatcher returns a dispatcher with the log executor registered and
// message delivery falling back to the log.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{executors: map[string]Executor{}, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.Register(TypeLog, Log(d.log))
	d.Register(TypeMessage, Message(LogMessenger{Log: d.log}))
	return d
}

// Register sets the executor for typ, replacing any previous one.
func (d *Dispatcher) Register(typ string, ex Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[strings.ToLower(typ)] = ex
}

// Types lists registered action types.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.executors))
	for t := range d.executors {
		out = append(out, t)
	}
	return out
}

// Execute implements engine.ActionExecutor.
func (d *Dispatcher) Execute(ctx context.Context, a core.Action, user core.User, tier int) error {
	d.mu.RLock()
	ex, ok := d.executors[a.Type]
	d.mu.RUnlock()
	if !ok {
		metrics.ActionsExecuted.WithLabelValues(a.Type, "unknown").Inc()
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}
	value := a.Expand(user, tier)
	if d.expand != nil {
		value = d.expand(ctx, user.ID, value)
	}
	if err := ex.Run(ctx, user, tier, value); err != nil {
		metrics.ActionsExecuted.WithLabelValues(a.Type, "error").Inc()
		return fmt.Errorf("%s action: %w", a.Type, err)
	}
	metrics.ActionsExecuted.WithLabelValues(a.Type, "ok").Inc()
	return nil
}

var _ engine.ActionExecutor = (*Dispatcher)(nil)

// Messenger delivers a text message to a user.
type Messenger interface {
	Send(ctx context.Context, user core.UserID, text string) error
}

// LogMessenger writes messages to the log when no delivery channel exists.
type LogMessenger struct{ Log *slog.Logger }

func (m LogMessenger) Send(_ context.Context, user core.UserID, text string) error {
	l := m.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("message", "user_id", user, "text", text)
	return nil
}

// Message sends the value to the user.
func Message(m Messenger) Executor {
	return ExecutorFunc(func(ctx context.Context, user core.User, _ int, value string) error {
		return m.Send(ctx, user.ID, value)
	})
}

// Log writes the value at info level.
func Log(l *slog.Logger) Executor {
	return ExecutorFunc(func(_ context.Context, user core.User, tier int, value string) error {
		l.Info(value, "user_id", user.ID, "pass_id", user.PassID, "tier", tier)
		return nil
	})
}

// Poster sends a JSON payload to a URL.
type Poster interface {
	Post(ctx context.Context, url string, payload any) error
}

// WebhookPayload is the body posted by the webhook action.
type WebhookPayload struct {
	UserID core.UserID `json:"user_id"`
	PassID string      `json:"pass_id"`
	Tier   int         `json:"tier"`
	Points string      `json:"points"`
}

// Webhook posts a WebhookPayload to the URL given as the action value.
func Webhook(p Poster) Executor {
	return ExecutorFunc(func(ctx context.Context, user core.User, tier int, value string) error {
		if value == "" {
			return errors.New("missing webhook url")
		}
		return p.Post(ctx, value, WebhookPayload{
			UserID: user.ID,
			PassID: user.PassID,
			Tier:   tier,
			Points: core.FormatAmount(user.Points),
		})
	})
}

// BalanceAdjuster changes a user's currency.
type BalanceAdjuster interface {
	AdjustBalance(ctx context.Context, user core.UserID, op, amount string) (core.User, error)
}

// Currency credits the amount given as the action value.
func Currency(b BalanceAdjuster) Executor {
	return ExecutorFunc(func(ctx context.Context, user core.User, _ int, value string) error {
		_, err := b.AdjustBalance(ctx, user.ID, engine.BalanceAdd, value)
		return err
	})
}

// PointsAdder awards points.
type PointsAdder interface {
	AddPoints(ctx context.Context, user core.UserID, delta int64) (core.User, error)
}

// Points awards the amount given as the action value. The award may itself
// cross further tiers.
func Points(p PointsAdder) Executor {
	return ExecutorFunc(func(ctx context.Context, user core.User, _ int, value string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", core.ErrInvalidAmount, value)
		}
		_, err = p.AddPoints(ctx, user.ID, n)
		return err
	})
}

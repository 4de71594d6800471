// Package integrations registers quest handlers and activates optional hooks
// into external systems, retrying while those systems are absent.
package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"passkit/core"
	"passkit/engine"
	"passkit/metrics"
	"passkit/quests"
)

const (
	DefaultRetryInterval = 10 * time.Second
	DefaultMaxAttempts   = 60
)

// State is the lifecycle position of a hook.
type State string

const (
	StateNotAttempted State = "not_attempted"
	StateRetrying     State = "retrying"
	StateActivated    State = "activated"
	StateAbandoned    State = "abandoned"
	StateDisabled     State = "disabled"
)

// Terminal reports whether no further attempts will be made.
func (s State) Terminal() bool {
	return s == StateActivated || s == StateAbandoned || s == StateDisabled
}

// Bus is the event bus surface the registry subscribes handlers on.
type Bus interface {
	Subscribe(typ core.EventType, handler engine.Handler) func()
	Publish(ctx context.Context, ev core.Event)
}

// ActivateFunc performs a hook's activation. Returned handlers are subscribed
// to the bus by the registry.
type ActivateFunc func(ctx context.Context) ([]quests.Handler, error)

// HookStatus is a read-only view of a hook record.
type HookStatus struct {
	Name     string  `json:"name"`
	State    State   `json:"state"`
	Attempts int     `json:"attempts"`
	Version  float64 `json:"version,omitempty"`
}

type hookRecord struct {
	name     string
	state    State
	attempts int
	version  float64
	task     Task
}

// Registry tracks hook state per name. Names are case-insensitive.
type Registry struct {
	bus         Bus
	presence    PresenceQuery
	scheduler   Scheduler
	interval    time.Duration
	maxAttempts int
	disabled    map[string]struct{}
	log         *slog.Logger

	mu     sync.Mutex
	hooks  map[string]*hookRecord
	unsubs []func()
}

// Option configures a Registry.
type Option func(*Registry)

func WithScheduler(s Scheduler) Option { return func(r *Registry) { r.scheduler = s } }

func WithRetryInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithDisabledHooks lists hook names that must never be attempted.
func WithDisabledHooks(names ...string) Option {
	return func(r *Registry) {
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				r.disabled[strings.ToLower(n)] = struct{}{}
			}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRegistry(bus Bus, presence PresenceQuery, opts ...Option) *Registry {
	if bus == nil {
		panic("NewRegistry requires a non-nil bus")
	}
	if presence == nil {
		presence = NewStaticPresence()
	}
	r := &Registry{
		bus:         bus,
		presence:    presence,
		interval:    DefaultRetryInterval,
		maxAttempts: DefaultMaxAttempts,
		disabled:    map[string]struct{}{},
		log:         slog.Default(),
		hooks:       map[string]*hookRecord{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.scheduler == nil {
		r.scheduler = NewTickerScheduler()
	}
	return r
}

// RegisterQuests subscribes every handler to its event type.
func (r *Registry) RegisterQuests(handlers ...quests.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		r.unsubs = append(r.unsubs, r.bus.Subscribe(h.Type(), h.Handle))
	}
}

// IsDisabled reports whether name was disabled by configuration.
func (r *Registry) IsDisabled(name string) bool {
	_, ok := r.disabled[strings.ToLower(name)]
	return ok
}

// HookImmediate activates a hook whose target is always available.
func (r *Registry) HookImmediate(ctx context.Context, name string, activate ActivateFunc) State {
	rec, fresh := r.claim(name)
	if !fresh {
		return r.stateOf(rec)
	}
	r.finish(ctx, rec, Decision{Outcome: Activate}, activate)
	return r.stateOf(rec)
}

// Hook activates name once the system is present and, when author is not
// empty, declares author among its authors.
func (r *Registry) Hook(ctx context.Context, name, author string, activate ActivateFunc) State {
	return r.hook(ctx, name, author, nil, activate)
}

// HookVersion is Hook with an additional version gate.
func (r *Registry) HookVersion(ctx context.Context, name, author string, predicate VersionPredicate, activate ActivateFunc) State {
	if predicate == nil {
		predicate = func(float64) bool { return true }
	}
	return r.hook(ctx, name, author, predicate, activate)
}

func (r *Registry) hook(ctx context.Context, name, author string, predicate VersionPredicate, activate ActivateFunc) State {
	rec, fresh := r.claim(name)
	if !fresh {
		return r.stateOf(rec)
	}
	if r.attempt(ctx, rec, author, predicate, activate) {
		return r.stateOf(rec)
	}

	r.transition(rec, StateRetrying)
	task := r.scheduler.Every(r.interval, func() {
		r.retry(ctx, rec, author, predicate, activate)
	})
	r.mu.Lock()
	rec.task = task
	done := rec.state.Terminal()
	r.mu.Unlock()
	if done {
		task.Cancel()
	}
	return r.stateOf(rec)
}

// claim returns the record for name, creating it when no request was seen
// before. fresh is false for repeated requests and disabled names.
func (r *Registry) claim(name string) (*hookRecord, bool) {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.hooks[key]; ok {
		return rec, false
	}
	rec := &hookRecord{name: name, state: StateNotAttempted}
	r.hooks[key] = rec
	if r.IsDisabled(name) {
		rec.state = StateDisabled
		metrics.HookTransitions.WithLabelValues(name, string(StateDisabled)).Inc()
		return rec, false
	}
	return rec, true
}

func (r *Registry) retry(ctx context.Context, rec *hookRecord, author string, predicate VersionPredicate, activate ActivateFunc) {
	r.mu.Lock()
	if rec.state != StateRetrying {
		r.mu.Unlock()
		return
	}
	rec.attempts++
	n := rec.attempts
	r.mu.Unlock()
	metrics.HookAttempts.WithLabelValues(rec.name).Inc()

	if r.attempt(ctx, rec, author, predicate, activate) {
		r.cancel(rec)
		return
	}
	if n >= r.maxAttempts {
		r.transition(rec, StateAbandoned)
		r.cancel(rec)
	}
}

// attempt runs one check and reports whether the hook reached a terminal state.
func (r *Registry) attempt(ctx context.Context, rec *hookRecord, author string, predicate VersionPredicate, activate ActivateFunc) bool {
	info, found := r.presence.Lookup(ctx, rec.name)
	d := Decide(info, found, author, predicate)
	if d.VersionChecked {
		r.mu.Lock()
		rec.version = d.Version
		r.mu.Unlock()
		r.log.Info("using extracted version for hook", "hook", rec.name, "version", d.Version, "raw", info.Version)
	}
	if d.Outcome == Retry {
		return false
	}
	r.finish(ctx, rec, d, activate)
	return true
}

func (r *Registry) finish(ctx context.Context, rec *hookRecord, d Decision, activate ActivateFunc) {
	if d.Outcome == Reject {
		r.log.Info("hook target present but not supported", "hook", rec.name, "reason", d.Reason)
		r.transition(rec, StateAbandoned)
		return
	}
	var handlers []quests.Handler
	if activate != nil {
		var err error
		if handlers, err = activate(ctx); err != nil {
			r.log.Error("hook activation failed", "hook", rec.name, "error", err)
			r.transition(rec, StateAbandoned)
			return
		}
	}
	r.RegisterQuests(handlers...)
	r.transition(rec, StateActivated)
	r.log.Info("hooked into external system", "hook", rec.name, "handlers", len(handlers))
	r.bus.Publish(ctx, core.NewHookActivated(rec.name))
}

func (r *Registry) transition(rec *hookRecord, to State) {
	r.mu.Lock()
	rec.state = to
	r.mu.Unlock()
	metrics.HookTransitions.WithLabelValues(rec.name, string(to)).Inc()
}

func (r *Registry) cancel(rec *hookRecord) {
	r.mu.Lock()
	task := rec.task
	r.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
}

func (r *Registry) stateOf(rec *hookRecord) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rec.state
}

// Status returns the record for name.
func (r *Registry) Status(name string) (HookStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.hooks[strings.ToLower(name)]
	if !ok {
		if r.IsDisabled(name) {
			return HookStatus{Name: name, State: StateDisabled}, true
		}
		return HookStatus{}, false
	}
	return rec.status(), true
}

// Hooks lists every requested hook sorted by name.
func (r *Registry) Hooks() []HookStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HookStatus, 0, len(r.hooks))
	for _, rec := range r.hooks {
		out = append(out, rec.status())
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// Activated returns the names of active hooks.
func (r *Registry) Activated() []string {
	var names []string
	for _, h := range r.Hooks() {
		if h.State == StateActivated {
			names = append(names, h.Name)
		}
	}
	return names
}

func (rec *hookRecord) status() HookStatus {
	return HookStatus{Name: rec.name, State: rec.state, Attempts: rec.attempts, Version: rec.version}
}

// Close cancels pending retries and unsubscribes every registered handler.
func (r *Registry) Close() {
	r.mu.Lock()
	var tasks []Task
	for _, rec := range r.hooks {
		if rec.task != nil {
			tasks = append(tasks, rec.task)
		}
	}
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()
	for _, t := range tasks {
		t.Cancel()
	}
	for _, u := range unsubs {
		u()
	}
}

func (s HookStatus) String() string {
	return fmt.Sprintf("%s(%s, %d attempts)", s.Name, s.State, s.Attempts)
}

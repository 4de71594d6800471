package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "passkit"

// Label names
const (
	LabelType   = "type"
	LabelQuest  = "quest"
	LabelPass   = "pass"
	LabelHook   = "hook"
	LabelState  = "state"
	LabelResult = "result"
	LabelAction = "action"
	LabelMethod = "method"
	LabelPath   = "path"
	LabelStatus = "status"
)

// Quest metrics
var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events accepted by the event bus",
		},
		[]string{LabelType},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Domain events delivered to quest handlers",
		},
		[]string{LabelType},
	)

	QuestProgress = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quest_progress_total",
			Help:      "Progress units applied to quests",
		},
		[]string{LabelQuest},
	)

	QuestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quests_completed_total",
			Help:      "Quests completed by users",
		},
		[]string{LabelQuest},
	)
)

// Progression metrics
var (
	TierUps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_ups_total",
			Help:      "Tiers reached by users",
		},
		[]string{LabelPass},
	)

	TierClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_claims_total",
			Help:      "Tier rewards claimed by users",
		},
		[]string{LabelPass},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_executed_total",
			Help:      "Tier-up actions executed",
		},
		[]string{LabelAction, LabelResult},
	)
)

// Integration metrics
var (
	HookTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_transitions_total",
			Help:      "Integration hook state transitions",
		},
		[]string{LabelHook, LabelState},
	)

	HookAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_attempts_total",
			Help:      "Integration hook retry attempts",
		},
		[]string{LabelHook},
	)

	RewardLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_lookups_total",
			Help:      "Reward cache lookups by result",
		},
		[]string{LabelResult},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{LabelMethod, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Middleware collects HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/healthz") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// withCORS applies a minimal CORS policy and answers preflight requests.
func withCORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-API-Key")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withAPIKeyAuth enforces a shared API key list.
func withAPIKeyAuth(apiKeys []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			allowed[k] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
				return
			}
			if _, ok := allowed[key]; !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withRateLimit applies a token bucket per client key.
func withRateLimit(rpm, burst int) func(http.Handler) http.Handler {
	limiter := newRateLimiter(rpm, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientKey(r)) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return r.Header.Get("X-API-Key")
}

// clientKey uses API key if present, otherwise remote IP.
func clientKey(r *http.Request) string {
	if key := extractAPIKey(r); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type rateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newRateLimiter(rpm, burst int) *rateLimiter {
	return &rateLimiter{
		limit:   rate.Limit(float64(rpm) / 60),
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.clients[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Package webhook forwards engine events and tier-up notifications to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"passkit/core"
)

// Sink posts JSON payloads to HTTP endpoints.
// It is synchronous for determinism; subscribe it to an async bus for throughput.
type Sink struct {
	client    *http.Client
	endpoints []string
	log       *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a webhook sink. endpoints receive every event passed to OnEvent.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Endpoints returns the configured event endpoints.
func (s *Sink) Endpoints() []string { return append([]string(nil), s.endpoints...) }

// OnEvent posts the event JSON to all endpoints. Failures are logged.
func (s *Sink) OnEvent(ctx context.Context, e core.Event) {
	for _, ep := range s.endpoints {
		if err := s.Post(ctx, ep, e); err != nil {
			s.log.Warn("webhook delivery failed", "endpoint", ep, "type", e.Type, "error", err)
		}
	}
}

// Post sends payload as JSON to url and fails on non-2xx responses.
func (s *Sink) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned %s", url, resp.Status)
	}
	return nil
}

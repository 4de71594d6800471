package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Exporter ships aggregated summaries somewhere outside the process.
type Exporter interface {
	Export(ctx context.Context, data *AggregatedData) error
	Flush(ctx context.Context) error
	Close() error
}

// HTTPExporter batches summaries and POSTs them as a JSON array.
type HTTPExporter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	batchSize  int

	mu     sync.Mutex
	buffer []*AggregatedData
}

func NewHTTPExporter(endpoint, apiKey string, batchSize int, client *http.Client) *HTTPExporter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExporter{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: client,
		batchSize:  batchSize,
		buffer:     make([]*AggregatedData, 0, batchSize),
	}
}

func (e *HTTPExporter) Export(ctx context.Context, data *AggregatedData) error {
	e.mu.Lock()
	e.buffer = append(e.buffer, data)
	full := len(e.buffer) >= e.batchSize
	e.mu.Unlock()

	if full {
		return e.Flush(ctx)
	}
	return nil
}

func (e *HTTPExporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.buffer) == 0 {
		return nil
	}

	payload, err := json.Marshal(e.buffer)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics data: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send analytics data: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("analytics export failed with status %d: %s", resp.StatusCode, string(body))
	}

	e.buffer = e.buffer[:0]
	return nil
}

// Close flushes whatever is still buffered.
func (e *HTTPExporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Flush(ctx)
}

// LogExporter writes each summary as a structured log line.
type LogExporter struct {
	Log *slog.Logger
}

func (e LogExporter) Export(ctx context.Context, data *AggregatedData) error {
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "season summary",
		"period", data.Period,
		"key", data.Key,
		"active_users", data.ActiveUsers,
		"points_awarded", data.PointsAwarded,
		"tiers_reached", data.TiersReached,
		"tiers_claimed", data.TiersClaimed,
		"quests_completed", data.QuestsCompleted)
	return nil
}

func (LogExporter) Flush(context.Context) error { return nil }
func (LogExporter) Close() error                { return nil }

// MultiExporter fans out to several exporters and joins their errors.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, data *AggregatedData) error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Export(ctx, data))
	}
	return errors.Join(errs...)
}

func (m MultiExporter) Flush(ctx context.Context) error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Flush(ctx))
	}
	return errors.Join(errs...)
}

func (m MultiExporter) Close() error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}

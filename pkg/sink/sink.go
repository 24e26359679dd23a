// Package sink pkg/sink/sink.go implements the idempotent anomaly write
// path: bounded retry with exponential backoff against storage, duplicate
// suppression via the records' natural key, and fan-out of stored records
// to webhooks and the live stream.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/mfreeman451/healthradar/pkg/alerts"
	"github.com/mfreeman451/healthradar/pkg/db"
	"github.com/mfreeman451/healthradar/pkg/metrics"
	"github.com/mfreeman451/healthradar/pkg/models"
)

var (
	// ErrWriteExhausted is returned when a batch could not be stored after
	// all retry attempts. The caller decides what to do with the batch; the
	// sink never drops it on its own.
	ErrWriteExhausted = errors.New("anomaly write retries exhausted")
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 100 * time.Millisecond
)

// Config tunes the sink.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Alerters    []alerts.AlertService
	// Broadcast, when set, receives every newly stored record. Used for
	// the websocket live feed.
	Broadcast func(*models.AnomalyRecord)
}

// Sink writes anomaly batches to SQLite-backed storage.
type Sink struct {
	db          db.Service
	maxAttempts int
	baseBackoff time.Duration
	alerters    []alerts.AlertService
	broadcast   func(*models.AnomalyRecord)
	degraded    atomic.Bool
}

// New creates a Sink over the given store.
func New(database db.Service, cfg Config) *Sink {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}

	return &Sink{
		db:          database,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		alerters:    cfg.Alerters,
		broadcast:   cfg.Broadcast,
	}
}

// Write stores one batch, retrying transient storage failures with
// exponential backoff. On success the sink leaves degraded mode; on
// exhaustion it enters degraded mode and returns the batch's failure to the
// caller.
func (s *Sink) Write(ctx context.Context, records []*models.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}

	var lastErr error

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.SinkWriteRetries.Inc()

			backoff := s.baseBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if _, err := s.db.InsertAnomalies(records); err != nil {
			lastErr = err
			log.Printf("Anomaly write attempt %d/%d failed: %v", attempt+1, s.maxAttempts, err)

			continue
		}

		s.markHealthy()
		s.fanOut(ctx, records)

		return nil
	}

	s.markDegraded()
	metrics.SinkWriteFailures.Inc()

	return fmt.Errorf("%w: %w", ErrWriteExhausted, lastErr)
}

// Healthy reports whether the sink is out of degraded mode.
func (s *Sink) Healthy() bool {
	return !s.degraded.Load()
}

func (s *Sink) markDegraded() {
	if !s.degraded.Swap(true) {
		log.Printf("Anomaly sink entering degraded mode, ingestion continues")
		metrics.StorageDegraded.Set(1)
	}
}

func (s *Sink) markHealthy() {
	if s.degraded.Swap(false) {
		log.Printf("Anomaly sink recovered from degraded mode")
		metrics.StorageDegraded.Set(0)
	}
}

// fanOut pushes newly stored records to metrics, the live stream and the
// webhook alerters. Records whose write was a duplicate carry no ID and are
// skipped, so redelivery never double-notifies.
func (s *Sink) fanOut(ctx context.Context, records []*models.AnomalyRecord) {
	for _, rec := range records {
		if rec.ID == 0 {
			continue
		}

		metrics.AnomaliesDetected.WithLabelValues(string(rec.Kind), string(rec.Severity)).Inc()

		if s.broadcast != nil {
			s.broadcast(rec)
		}

		if rec.Severity == models.SeverityCritical {
			s.sendAlerts(ctx, rec)
		}
	}
}

func (s *Sink) sendAlerts(ctx context.Context, rec *models.AnomalyRecord) {
	alert := &alerts.WebhookAlert{
		Level:     alerts.LevelForSeverity(rec.Severity),
		Title:     fmt.Sprintf("%s on %s", rec.Kind, rec.DeviceID),
		Message:   fmt.Sprintf("Anomaly %s detected for device %s", rec.Kind, rec.DeviceID),
		Timestamp: rec.DetectedAt.UTC().Format(time.RFC3339),
		DeviceID:  rec.DeviceID,
		Details: map[string]any{
			"kind":     rec.Kind,
			"severity": rec.Severity,
		},
	}

	if rec.Score != nil {
		alert.Details["classifier_score"] = *rec.Score
	}

	for _, alerter := range s.alerters {
		if err := alerter.Alert(ctx, alert); err != nil {
			if errors.Is(err, alerts.ErrWebhookCooldown) || errors.Is(err, alerts.ErrWebhookDisabled) {
				continue
			}

			log.Printf("Failed to send alert for %s on %s: %v", rec.Kind, rec.DeviceID, err)
		}
	}
}

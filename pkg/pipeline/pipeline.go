// Package pipeline orchestrates the per-reading decision path: parse,
// registry upsert, range validation, model classification, flood check,
// anomaly persistence. One inbound message yields either a parsed reading
// path or a recorded parse-failure anomaly; nothing is thrown away
// silently.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mfreeman451/healthradar/pkg/classifier"
	"github.com/mfreeman451/healthradar/pkg/db"
	"github.com/mfreeman451/healthradar/pkg/metrics"
	"github.com/mfreeman451/healthradar/pkg/models"
	"github.com/mfreeman451/healthradar/pkg/registry"
	"github.com/mfreeman451/healthradar/pkg/sink"
	"github.com/mfreeman451/healthradar/pkg/transport"
	"github.com/mfreeman451/healthradar/pkg/validator"
)

const defaultWorkers = 4

// Pipeline turns raw transport messages into stored anomaly records and
// registry updates. It is safe for concurrent use; the registry is the only
// shared mutable state and serializes its own updates.
type Pipeline struct {
	registry   *registry.Registry
	validator  *validator.Validator
	classifier classifier.Classifier
	sink       sink.Service
	store      db.Service
	workers    int
	now        func() time.Time
}

// New assembles a Pipeline. The store is used for best-effort device
// snapshot persistence; anomaly records go through the sink.
func New(reg *registry.Registry, val *validator.Validator, cls classifier.Classifier,
	sk sink.Service, store db.Service, workers int) *Pipeline {
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Pipeline{
		registry:   reg,
		validator:  val,
		classifier: cls,
		sink:       sk,
		store:      store,
		workers:    workers,
		now:        time.Now,
	}
}

// Ingest processes one raw message and returns the anomaly records it
// produced, in deterministic order: first contact, validator rule order,
// classifier verdict, flood. A non-nil error means the sink exhausted its
// retries for this batch; the records are still returned to the caller and
// ingestion of subsequent messages is unaffected.
func (p *Pipeline) Ingest(ctx context.Context, payload []byte) ([]*models.AnomalyRecord, error) {
	start := p.now()
	defer func() {
		metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}()

	metrics.ReadingsReceived.Inc()

	reading, err := parseReading(payload)
	if err != nil {
		metrics.ParseFailures.Inc()

		records := []*models.AnomalyRecord{{
			DeviceID:   models.UnknownDeviceID,
			DetectedAt: p.now(),
			Kind:       models.KindMissingFields,
			Severity:   models.SeverityWarning,
		}}

		return records, p.sink.Write(ctx, records)
	}

	// Validation sees the reading as it arrived: an absent identifier is a
	// missing field. The reserved id takes its place only afterwards, for
	// attribution.
	violations := p.validator.Validate(reading)

	if reading.DeviceID == "" {
		reading.DeviceID = models.UnknownDeviceID
	}

	// The device may stamp its own clock; receipt time is the fallback.
	readingTime := p.now()
	if reading.Timestamp != nil {
		readingTime = *reading.Timestamp
	}

	_, firstContact := p.registry.Upsert(reading.DeviceID, readingTime)
	if firstContact {
		metrics.KnownDevices.Inc()
	}

	var records []*models.AnomalyRecord

	if firstContact {
		records = append(records, p.record(reading, models.KindUnknownDevice, models.SeverityCritical, nil))
	}

	for _, violation := range violations {
		records = append(records, p.record(reading, violation.Kind, violation.Severity, nil))
	}

	if verdict := p.classifier.Classify(reading); verdict.IsAnomaly {
		score := verdict.Score
		records = append(records, p.record(reading, models.KindMLAnomaly, models.SeverityCritical, &score))
	}

	flood := p.registry.RecordFloodCheck(reading.DeviceID, p.now())
	if flood.Flooding {
		metrics.FloodedReadings.Inc()
	}

	if flood.Alert {
		records = append(records, p.record(reading, models.KindFlood, models.SeverityWarning, nil))
	}

	p.persistDevice(reading.DeviceID)

	return records, p.sink.Write(ctx, records)
}

func (p *Pipeline) record(reading *models.Reading, kind models.AnomalyKind,
	severity models.Severity, score *float64) *models.AnomalyRecord {
	snapshot := *reading

	return &models.AnomalyRecord{
		DeviceID:   reading.DeviceID,
		DetectedAt: p.now(),
		Kind:       kind,
		Severity:   severity,
		Reading:    &snapshot,
		Score:      score,
	}
}

// persistDevice mirrors the registry entry into storage so the device list
// survives restarts. Failures are logged, never fatal to the message.
func (p *Pipeline) persistDevice(deviceID string) {
	device, ok := p.registry.Get(deviceID)
	if !ok {
		return
	}

	if err := p.store.UpsertDevice(&device); err != nil {
		log.Printf("Failed to persist device %s: %v", deviceID, err)
	}
}

// Run consumes the subscription with a pool of workers until ctx is
// cancelled or the subscriber closes. In-flight ingestions complete before
// Run returns, which is the graceful-drain contract the server relies on
// during shutdown.
func (p *Pipeline) Run(ctx context.Context, sub transport.Subscriber) {
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-sub.Messages():
					if !ok {
						return
					}

					// Ingest runs on a fresh context so a message already
					// in flight finishes its sink retries during drain.
					if _, err := p.Ingest(context.Background(), msg.Payload); err != nil {
						log.Printf("Ingest degraded: %v", err)
					}
				}
			}
		}()
	}

	wg.Wait()
}

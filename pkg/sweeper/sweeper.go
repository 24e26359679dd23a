// Package sweeper runs the periodic liveness scan over the device registry
// and emits synthetic "unexpected silence" anomalies through the same sink
// the ingestion path uses.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/mfreeman451/healthradar/pkg/db"
	"github.com/mfreeman451/healthradar/pkg/metrics"
	"github.com/mfreeman451/healthradar/pkg/models"
	"github.com/mfreeman451/healthradar/pkg/registry"
	"github.com/mfreeman451/healthradar/pkg/sink"
)

const (
	defaultInterval = 15 * time.Second
	cleanupEvery    = time.Hour
)

// Sweeper periodically scans for silent devices. It owns no device state;
// everything goes through the registry interface.
type Sweeper struct {
	registry       *registry.Registry
	sink           sink.Service
	store          db.Service
	interval       time.Duration
	silenceTimeout time.Duration
	retention      time.Duration
	lastCleanup    time.Time
	done           chan struct{}
	now            func() time.Time
}

// New creates a Sweeper.
func New(reg *registry.Registry, sk sink.Service, store db.Service,
	interval, silenceTimeout, retention time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Sweeper{
		registry:       reg,
		sink:           sk,
		store:          store,
		interval:       interval,
		silenceTimeout: silenceTimeout,
		retention:      retention,
		done:           make(chan struct{}),
		now:            time.Now,
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled. An
// in-flight sweep always completes before Start returns.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("Liveness sweeper started with interval %v, silence timeout %v",
		s.interval, s.silenceTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// Stop signals the sweep loop to exit.
func (s *Sweeper) Stop(context.Context) error {
	close(s.done)
	return nil
}

// runSweep emits at most one UNEXPECTED_SILENCE record per silent device.
// The status gate lives in the registry: a device is only marked SILENT
// after the sink accepted the record, so a failed write is retried on the
// next sweep instead of being lost.
func (s *Sweeper) runSweep(ctx context.Context) {
	now := s.now()
	flagged := 0

	for _, device := range s.registry.SnapshotAll() {
		// The UNKNOWN placeholder is not a monitor; silence from it
		// means nothing.
		if device.Status == models.StatusSilent || device.Status == models.StatusUnknown {
			continue
		}

		if now.Sub(device.LastSeen) <= s.silenceTimeout {
			continue
		}

		record := &models.AnomalyRecord{
			DeviceID:   device.DeviceID,
			DetectedAt: now,
			Kind:       models.KindUnexpectedSilence,
			Severity:   models.SeverityCritical,
		}

		if err := s.sink.Write(ctx, []*models.AnomalyRecord{record}); err != nil {
			log.Printf("Failed to record silence for %s, will retry next sweep: %v",
				device.DeviceID, err)

			continue
		}

		if s.registry.MarkSilent(device.DeviceID) {
			flagged++
			s.persistStatus(device.DeviceID)
		}
	}

	if flagged > 0 {
		log.Printf("Sweep flagged %d silent device(s)", flagged)
	}

	metrics.SweepsCompleted.Inc()
	s.maybeCleanup(now)
}

func (s *Sweeper) persistStatus(deviceID string) {
	device, ok := s.registry.Get(deviceID)
	if !ok {
		return
	}

	if err := s.store.UpsertDevice(&device); err != nil {
		log.Printf("Failed to persist device %s: %v", deviceID, err)
	}
}

// maybeCleanup prunes anomaly records past the retention period, at most
// once per cleanup interval.
func (s *Sweeper) maybeCleanup(now time.Time) {
	if s.retention <= 0 || now.Sub(s.lastCleanup) < cleanupEvery {
		return
	}

	s.lastCleanup = now

	if err := s.store.CleanOldData(s.retention); err != nil {
		log.Printf("Failed to clean old anomaly data: %v", err)
	}
}

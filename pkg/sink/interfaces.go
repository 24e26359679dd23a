// Package sink pkg/sink/interfaces.go

//go:generate mockgen -destination=mock_sink.go -package=sink github.com/mfreeman451/healthradar/pkg/sink Service

package sink

import (
	"context"

	"github.com/mfreeman451/healthradar/pkg/models"
)

// Service is the write path for anomaly records.
type Service interface {
	// Write persists a batch of records. Each write is independently
	// idempotent; duplicates from transport redelivery are dropped
	// silently. An error means the batch was reported back after retry
	// exhaustion, never silently discarded.
	Write(ctx context.Context, records []*models.AnomalyRecord) error

	// Healthy reports whether the last write round-trip to storage
	// succeeded.
	Healthy() bool
}

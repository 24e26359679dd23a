// Package db pkg/db/interfaces.go
package db

import (
	"time"

	"github.com/mfreeman451/healthradar/pkg/models"
)

//go:generate mockgen -destination=mock_db.go -package=db github.com/mfreeman451/healthradar/pkg/db Service

// AnomalyFilter narrows an anomaly query. Zero values mean "no filter".
type AnomalyFilter struct {
	DeviceID string
	Kind     models.AnomalyKind
	Start    time.Time
	End      time.Time
	Limit    int
}

// Service represents all database operations.
type Service interface {
	Close() error

	// Anomaly operations.

	InsertAnomalies(records []*models.AnomalyRecord) (int, error)
	ListAnomalies(filter *AnomalyFilter) ([]models.AnomalyRecord, error)
	CountAnomalies() (int64, error)

	// Device operations.

	UpsertDevice(device *models.Device) error
	GetDevice(deviceID string) (*models.Device, error)
	ListDevices() ([]models.Device, error)

	// Maintenance operations.

	CleanOldData(retentionPeriod time.Duration) error
}

// Package models pkg/models/telemetry.go contains the shared types for the
// telemetry ingestion and anomaly pipeline.
package models

import "time"

// Severity classifies how urgent an anomaly is.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// AnomalyKind identifies the condition that produced an anomaly record.
type AnomalyKind string

const (
	KindOutOfRangeHR      AnomalyKind = "OUT_OF_RANGE_HR"
	KindOutOfRangeTemp    AnomalyKind = "OUT_OF_RANGE_TEMP"
	KindWeakSignal        AnomalyKind = "WEAK_SIGNAL"
	KindLowBattery        AnomalyKind = "LOW_BATTERY"
	KindMLAnomaly         AnomalyKind = "ML_ANOMALY"
	KindMissingFields     AnomalyKind = "MISSING_FIELDS"
	KindUnknownDevice     AnomalyKind = "UNKNOWN_DEVICE"
	KindFlood             AnomalyKind = "FLOOD"
	KindUnexpectedSilence AnomalyKind = "UNEXPECTED_SILENCE"
)

// DeviceStatus is the registry's view of a device.
type DeviceStatus string

const (
	StatusActive   DeviceStatus = "ACTIVE"
	StatusFlooding DeviceStatus = "FLOODING"
	StatusSilent   DeviceStatus = "SILENT"
	StatusUnknown  DeviceStatus = "UNKNOWN" // reserved placeholder entry, never a live monitor
)

// UnknownDeviceID is used when the device identifier cannot be recovered
// from an inbound message.
const UnknownDeviceID = "UNKNOWN"

// Reading is one telemetry sample from a device. Fields other than DeviceID
// are pointers because any of them may be absent from the wire payload;
// absence is a classifiable condition, not a parse failure.
type Reading struct {
	DeviceID       string     `json:"device_id"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	HeartRate      *int       `json:"heart_rate,omitempty"`
	BodyTemp       *float64   `json:"body_temp,omitempty"`
	SignalStrength *int       `json:"signal_strength,omitempty"`
	BatteryLevel   *int       `json:"battery_level,omitempty"`
}

// Complete reports whether every telemetry field was present.
func (r *Reading) Complete() bool {
	return r.DeviceID != "" &&
		r.HeartRate != nil &&
		r.BodyTemp != nil &&
		r.SignalStrength != nil &&
		r.BatteryLevel != nil
}

// Device is a registry entry. Entries are owned exclusively by the registry;
// everything else sees copies.
type Device struct {
	DeviceID         string       `json:"device_id"`
	FirstSeen        time.Time    `json:"first_seen"`
	LastSeen         time.Time    `json:"last_seen"`
	ReadingCount     int64        `json:"reading_count"`
	FloodWindowCount int          `json:"flood_window_count"`
	FloodWindowStart time.Time    `json:"flood_window_start"`
	Status           DeviceStatus `json:"status"`
}

// AnomalyRecord is a persisted classified deviation event. Records are
// append-only; the ID is assigned by the store on insert. The triple
// (DeviceID, DetectedAt, Kind) is the natural idempotency key that lets the
// sink drop duplicates caused by transport redelivery.
type AnomalyRecord struct {
	ID         int64       `json:"id"`
	DeviceID   string      `json:"device_id"`
	DetectedAt time.Time   `json:"detected_at"`
	Kind       AnomalyKind `json:"kind"`
	Severity   Severity    `json:"severity"`
	Reading    *Reading    `json:"reading,omitempty"`
	Score      *float64    `json:"classifier_score,omitempty"`
}

// Violation is a single range-validation finding.
type Violation struct {
	Kind     AnomalyKind `json:"kind"`
	Severity Severity    `json:"severity"`
}

// FloodVerdict is the result of a per-device rate check.
type FloodVerdict struct {
	Flooding bool `json:"flooding"`
	// Alert is set at most once per flood window, on the reading that
	// breached the threshold.
	Alert bool `json:"alert"`
}

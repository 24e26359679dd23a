// Package validator checks readings against static medical-safety bounds.
// It is pure: no state beyond the configured thresholds, no side effects.
package validator

import (
	"github.com/mfreeman451/healthradar/pkg/config"
	"github.com/mfreeman451/healthradar/pkg/models"
)

// Validator evaluates one reading against the configured ranges.
type Validator struct {
	ranges config.RangeConfig
}

// New creates a Validator with the given bounds.
func New(ranges config.RangeConfig) *Validator {
	return &Validator{ranges: ranges}
}

// Validate returns every violation found in the reading, in fixed rule
// order: heart rate, body temperature, signal strength, battery level,
// missing fields. The order is deterministic so downstream records and test
// assertions are stable. A missing field never suppresses the checks on the
// fields that are present.
func (v *Validator) Validate(r *models.Reading) []models.Violation {
	var violations []models.Violation

	if r.HeartRate != nil && (*r.HeartRate < v.ranges.HeartRateMin || *r.HeartRate > v.ranges.HeartRateMax) {
		violations = append(violations, models.Violation{
			Kind:     models.KindOutOfRangeHR,
			Severity: models.SeverityCritical,
		})
	}

	if r.BodyTemp != nil && (*r.BodyTemp < v.ranges.BodyTempMin || *r.BodyTemp > v.ranges.BodyTempMax) {
		violations = append(violations, models.Violation{
			Kind:     models.KindOutOfRangeTemp,
			Severity: models.SeverityCritical,
		})
	}

	if r.SignalStrength != nil && *r.SignalStrength < v.ranges.SignalStrengthMin {
		violations = append(violations, models.Violation{
			Kind:     models.KindWeakSignal,
			Severity: models.SeverityWarning,
		})
	}

	if r.BatteryLevel != nil && *r.BatteryLevel < v.ranges.BatteryLevelMin {
		violations = append(violations, models.Violation{
			Kind:     models.KindLowBattery,
			Severity: models.SeverityWarning,
		})
	}

	if !r.Complete() {
		violations = append(violations, models.Violation{
			Kind:     models.KindMissingFields,
			Severity: models.SeverityWarning,
		})
	}

	return violations
}

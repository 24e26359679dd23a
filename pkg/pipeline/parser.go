package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfreeman451/healthradar/pkg/models"
)

// parseReading extracts a best-effort Reading from a raw payload. Fields
// with missing or mistyped values are simply left absent; the validator
// classifies absence later. Only a payload that is not structured data at
// all is a parse failure.
func parseReading(payload []byte) (*models.Reading, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", errUnparseable, err)
	}

	if raw == nil {
		return nil, errUnparseable
	}

	reading := &models.Reading{}

	if id, ok := raw["device_id"].(string); ok {
		reading.DeviceID = id
	}

	if v, ok := numericField(raw, "heart_rate"); ok {
		hr := int(v)
		reading.HeartRate = &hr
	}

	if v, ok := numericField(raw, "body_temp"); ok {
		reading.BodyTemp = &v
	}

	if v, ok := numericField(raw, "signal_strength"); ok {
		signal := int(v)
		reading.SignalStrength = &signal
	}

	if v, ok := numericField(raw, "battery_level"); ok {
		battery := int(v)
		reading.BatteryLevel = &battery
	}

	if ts, ok := raw["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			reading.Timestamp = &t
		}
	}

	return reading, nil
}

func numericField(raw map[string]interface{}, key string) (float64, bool) {
	v, ok := raw[key].(float64)
	return v, ok
}

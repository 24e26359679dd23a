package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	errNoDBPath    = errors.New("db_path is required")
	errNoModelPath = errors.New("model_path is required")
)

// Duration wraps time.Duration so configs can say "30s" instead of
// nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// RangeConfig holds the medical-safety bounds checked by the validator.
type RangeConfig struct {
	HeartRateMin      int     `json:"heart_rate_min"`
	HeartRateMax      int     `json:"heart_rate_max"`
	BodyTempMin       float64 `json:"body_temp_min"`
	BodyTempMax       float64 `json:"body_temp_max"`
	SignalStrengthMin int     `json:"signal_strength_min"`
	BatteryLevelMin   int     `json:"battery_level_min"`
}

// FloodConfig controls the per-device rate policy.
type FloodConfig struct {
	Window    Duration `json:"window"`    // sliding window duration
	Threshold int      `json:"threshold"` // readings per window before a FLOOD alert
}

// TransportConfig points at the pub/sub channel carrying telemetry.
type TransportConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Topic    string `json:"topic"`
}

// WebhookConfig represents a webhook notification configuration.
type WebhookConfig struct {
	Enabled  bool     `json:"enabled"`
	URL      string   `json:"url"`
	Cooldown Duration `json:"cooldown"`
	Template string   `json:"template,omitempty"`
	Headers  []Header `json:"headers,omitempty"` // Optional custom headers
}

// Header represents a custom HTTP header.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ServerConfig is the top-level configuration for cmd/server.
type ServerConfig struct {
	ListenAddr      string          `json:"listen_addr"`
	DBPath          string          `json:"db_path"`
	ModelPath       string          `json:"model_path"`
	Workers         int             `json:"workers"`
	Transport       TransportConfig `json:"transport"`
	Ranges          RangeConfig     `json:"ranges"`
	Flood           FloodConfig     `json:"flood"`
	SilenceTimeout  Duration        `json:"silence_timeout"`
	SweepInterval   Duration        `json:"sweep_interval"`
	Retention       Duration        `json:"retention"`
	IngestRateLimit float64         `json:"ingest_rate_limit"`
	Webhooks        []WebhookConfig `json:"webhooks,omitempty"`
}

// Validate applies defaults and rejects configurations the server cannot
// start with.
func (c *ServerConfig) Validate() error {
	if c.DBPath == "" {
		return errNoDBPath
	}

	if c.ModelPath == "" {
		return errNoModelPath
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	if c.Workers <= 0 {
		c.Workers = 4
	}

	if c.Transport.Topic == "" {
		c.Transport.Topic = "iot.health"
	}

	if c.Ranges == (RangeConfig{}) {
		c.Ranges = DefaultRanges()
	}

	if c.Flood.Window == 0 {
		c.Flood.Window = Duration(60 * time.Second)
	}

	if c.Flood.Threshold <= 0 {
		c.Flood.Threshold = 20
	}

	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = Duration(30 * time.Second)
	}

	if c.SweepInterval == 0 {
		c.SweepInterval = Duration(15 * time.Second)
	}

	if c.Retention == 0 {
		c.Retention = Duration(30 * 24 * time.Hour)
	}

	if c.IngestRateLimit <= 0 {
		c.IngestRateLimit = 100
	}

	return nil
}

// DefaultRanges returns the stock medical bounds.
func DefaultRanges() RangeConfig {
	return RangeConfig{
		HeartRateMin:      60,
		HeartRateMax:      100,
		BodyTempMin:       36.0,
		BodyTempMax:       37.5,
		SignalStrengthMin: -100,
		BatteryLevelMin:   10,
	}
}

// Package classifier wraps the pre-trained statistical outlier model used
// by the ingestion pipeline. The model is loaded once at process start from
// a JSON artifact; a missing or malformed artifact is a startup-fatal
// condition, never a per-request one.
package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/mfreeman451/healthradar/pkg/models"
)

const modelTypeZScore = "zscore"

// Number of features in the fixed projection:
// heart_rate, body_temp, signal_strength, battery_level.
const featureCount = 4

// Verdict is the classifier's opinion on one reading.
type Verdict struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"score"`
}

// Classifier scores readings. Implementations must be safe for concurrent
// read-only inference.
type Classifier interface {
	Classify(r *models.Reading) Verdict
}

// artifact is the on-disk model format. Means and Stds describe the scaler
// fitted during training; Threshold is the decision boundary on the
// standardized score.
type artifact struct {
	ModelType string    `json:"model_type"`
	Features  []string  `json:"features"`
	Means     []float64 `json:"means"`
	Stds      []float64 `json:"stds"`
	Threshold float64   `json:"threshold"`
}

// ZScoreModel scores a reading by its worst standardized deviation across
// the feature vector. Missing numeric fields are imputed with the scaler
// mean, contributing zero to the score: the same neutral-value strategy the
// training side uses, which is what keeps scores comparable between
// training and inference.
type ZScoreModel struct {
	means     [featureCount]float64
	stds      [featureCount]float64
	threshold float64
}

// Load reads and validates a model artifact from path.
func Load(path string) (*ZScoreModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelNotFound, err)
	}

	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedModel, err)
	}

	if art.ModelType != modelTypeZScore {
		return nil, fmt.Errorf("%w: unsupported model_type %q", ErrMalformedModel, art.ModelType)
	}

	if len(art.Means) != featureCount || len(art.Stds) != featureCount {
		return nil, fmt.Errorf("%w: expected %d features, got %d means and %d stds",
			ErrMalformedModel, featureCount, len(art.Means), len(art.Stds))
	}

	if art.Threshold <= 0 {
		return nil, fmt.Errorf("%w: threshold must be positive", ErrMalformedModel)
	}

	m := &ZScoreModel{threshold: art.Threshold}

	for i := 0; i < featureCount; i++ {
		if art.Stds[i] <= 0 {
			return nil, fmt.Errorf("%w: std for feature %d must be positive", ErrMalformedModel, i)
		}

		m.means[i] = art.Means[i]
		m.stds[i] = art.Stds[i]
	}

	return m, nil
}

// Classify projects the reading onto the fixed feature vector and scores it.
func (m *ZScoreModel) Classify(r *models.Reading) Verdict {
	features := m.featureVector(r)

	score := 0.0

	for i, v := range features {
		z := math.Abs((v - m.means[i]) / m.stds[i])
		if z > score {
			score = z
		}
	}

	return Verdict{
		IsAnomaly: score > m.threshold,
		Score:     score,
	}
}

// featureVector builds the fixed-order numeric projection, imputing absent
// fields with the scaler mean.
func (m *ZScoreModel) featureVector(r *models.Reading) [featureCount]float64 {
	features := m.means

	if r.HeartRate != nil {
		features[0] = float64(*r.HeartRate)
	}

	if r.BodyTemp != nil {
		features[1] = *r.BodyTemp
	}

	if r.SignalStrength != nil {
		features[2] = float64(*r.SignalStrength)
	}

	if r.BatteryLevel != nil {
		features[3] = float64(*r.BatteryLevel)
	}

	return features
}

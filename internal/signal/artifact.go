package signal

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// LinearModel is the trained-artifact format this registry loads:
// feature weights plus an intercept, written by the (out-of-scope)
// training harness and read back as plain JSON. Anything fancier than
// a linear combination belongs to the training/backtest harnesses this
// repository only consumes, never reimplements.
type LinearModel struct {
	FeatureWeights map[string]float64 `json:"feature_weights"`
	Intercept      float64            `json:"intercept"`
	// ProbeFeatures/ProbeExpected let ReloadIfChanged validate a freshly
	// loaded artifact with a single deterministic prediction before it
	// replaces the running model, per the registry's reload policy.
	ProbeFeatures map[string]float64 `json:"probe_features"`
	ProbeExpected float64            `json:"probe_expected"`
}

// Predict computes the model's raw output for features. Missing
// features are treated as zero rather than rejected, since the feature
// pipeline's indicator set can legitimately be sparse (e.g. ATR absent
// for a symbol with too little history).
func (m *LinearModel) Predict(features map[string]float64) float64 {
	out := m.Intercept
	for name, weight := range m.FeatureWeights {
		out += weight * features[name]
	}
	return out
}

const probeTolerance = 1e-6

// validate runs the probe prediction and compares it against the
// artifact's recorded expectation, catching a corrupted or
// mismatched-version file before it ever reaches live traffic.
func (m *LinearModel) validate() error {
	if len(m.ProbeFeatures) == 0 {
		return fmt.Errorf("artifact carries no probe_features, cannot validate")
	}
	got := m.Predict(m.ProbeFeatures)
	if math.Abs(got-m.ProbeExpected) > probeTolerance {
		return fmt.Errorf("probe prediction mismatch: got %f, want %f", got, m.ProbeExpected)
	}
	return nil
}

// ArtifactLoader loads and validates a model artifact from a path.
// Swappable in tests so the registry never touches a real filesystem.
type ArtifactLoader interface {
	Load(modelPath string) (*LinearModel, error)
}

// FileLoader reads a LinearModel as JSON from the local filesystem.
type FileLoader struct{}

func (FileLoader) Load(modelPath string) (*LinearModel, error) {
	raw, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var m LinearModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("validate model artifact: %w", err)
	}
	return &m, nil
}

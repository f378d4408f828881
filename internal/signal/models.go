// Package signal hosts the model registry (versioned artifact catalog
// with atomic hot reload) and the signal engine (feature computation
// and target-weight generation) that together form the Signal Service.
package signal

import "time"

// ModelStatus is the lifecycle state of one catalog row.
type ModelStatus string

const (
	StatusActive   ModelStatus = "active"
	StatusInactive ModelStatus = "inactive"
	StatusTesting  ModelStatus = "testing"
	StatusFailed   ModelStatus = "failed"
)

// ModelMetadata describes one versioned row in the catalog. At most one
// (strategy_name, status=active) row exists at any instant — enforced
// by Registry.Activate inside a transaction, never by a unique index
// alone, since "active" is a value rather than a structural property.
type ModelMetadata struct {
	ID                 int64
	StrategyName       string
	Version            string
	ModelPath          string
	Status             ModelStatus
	PerformanceMetrics map[string]interface{}
	Config             map[string]interface{}
	CreatedAt          time.Time
	ActivatedAt        *time.Time
	DeactivatedAt      *time.Time
}

// Signal is the per-request transient record returned by the engine.
// Signals are never persisted — they are recomputed on every request
// from the currently active model and fresh market data.
type Signal struct {
	Symbol          string  `json:"symbol"`
	PredictedReturn float64 `json:"predicted_return"`
	Rank            int     `json:"rank"`
	TargetWeight    float64 `json:"target_weight"`
}

// Bar is one OHLCV observation, oldest-to-newest, feeding the feature
// pipeline.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PriceSource supplies the historical bars the feature pipeline needs.
// Implemented by internal/marketdata; kept as an interface here so the
// engine can be tested without a live quote feed.
type PriceSource interface {
	Bars(symbol string, lookback int) ([]Bar, error)
}

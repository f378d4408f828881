package signal

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/tradeplane/internal/apperr"
	"github.com/aristath/tradeplane/internal/events"
)

// DefaultLookback is how many bars the feature pipeline pulls per
// symbol when the caller doesn't override it.
const DefaultLookback = 90

// Result is one (strategy, as_of_date) signal generation outcome.
type Result struct {
	StrategyName string
	AsOfDate     string
	ModelVersion string
	Signals      []Signal
}

// Engine computes signals for a strategy's active model against a set
// of symbols. It never persists anything — every request recomputes
// from fresh bars and the currently active handle, matching the
// "transient record" definition of Signal.
type Engine struct {
	registry *Registry
	prices   PriceSource
	events   *events.Manager
	log      zerolog.Logger
	lookback int
}

// NewEngine builds a signal engine over registry and prices.
func NewEngine(registry *Registry, prices PriceSource, mgr *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		registry: registry,
		prices:   prices,
		events:   mgr,
		log:      log.With().Str("component", "signal-engine").Logger(),
		lookback: DefaultLookback,
	}
}

// Generate produces ranked, weight-normalized signals for symbols
// under strategy's currently active model. Fails closed (503) when no
// model has ever loaded, per the registry's failure semantics.
func (e *Engine) Generate(strategyName, asOfDate string, symbols []string) (*Result, error) {
	handle, err := e.registry.CurrentModel(strategyName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindFailClosed, "no_model_loaded",
			fmt.Sprintf("no active model loaded for strategy %q", strategyName), err)
	}

	preds := make([]rawPrediction, 0, len(symbols))
	for _, symbol := range symbols {
		bars, err := e.prices.Bars(symbol, e.lookback)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("skipping symbol, bars unavailable")
			continue
		}
		if len(bars) == 0 {
			continue
		}
		features := ComputeFeatures(bars)
		preds = append(preds, rawPrediction{symbol: symbol, pred: handle.Model.Predict(features)})
	}

	signals := rankAndWeight(preds)

	result := &Result{
		StrategyName: strategyName,
		AsOfDate:     asOfDate,
		ModelVersion: handle.Metadata.Version,
		Signals:      signals,
	}

	if e.events != nil {
		e.events.Emit("signal", &events.SignalsGeneratedData{
			StrategyID: strategyName, AsOfDate: asOfDate, NumSignals: len(signals),
		})
	}
	return result, nil
}

// rawPrediction pairs a symbol with its raw model output, before
// ranking and weight normalization.
type rawPrediction struct {
	symbol string
	pred   float64
}

// rankAndWeight ranks symbols by raw predicted return (highest first)
// and normalizes magnitudes into target weights: the long group
// (positive z-score) sums to +1, the short group (negative z-score)
// sums to -1. Rank order is the invariant this repository guarantees —
// absolute predicted_return scale is not, so normalization always runs
// even when it changes the published number.
func rankAndWeight(preds []rawPrediction) []Signal {
	if len(preds) == 0 {
		return nil
	}

	raw := make([]float64, len(preds))
	for i, p := range preds {
		raw[i] = p.pred
	}

	var mean, stddev float64
	if len(raw) > 1 {
		mean, stddev = stat.MeanStdDev(raw, nil)
	} else {
		mean = raw[0]
	}

	zscores := make([]float64, len(raw))
	for i, v := range raw {
		if stddev == 0 {
			zscores[i] = 0
		} else {
			zscores[i] = (v - mean) / stddev
		}
	}

	order := make([]int, len(preds))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return raw[order[a]] > raw[order[b]] })

	var longAbsSum, shortAbsSum float64
	for _, z := range zscores {
		switch {
		case z > 0:
			longAbsSum += z
		case z < 0:
			shortAbsSum += -z
		}
	}

	signals := make([]Signal, len(preds))
	for rank, idx := range order {
		z := zscores[idx]
		var weight float64
		switch {
		case z > 0 && longAbsSum > 0:
			weight = z / longAbsSum
		case z < 0 && shortAbsSum > 0:
			weight = -(-z / shortAbsSum)
		}
		signals[rank] = Signal{
			Symbol:          preds[idx].symbol,
			PredictedReturn: raw[idx],
			Rank:            rank + 1,
			TargetWeight:    weight,
		}
	}
	return signals
}

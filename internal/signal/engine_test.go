package signal

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/events"
)

// fakePriceSource returns a deterministic upward or downward price
// walk per symbol so ComputeFeatures has real history to chew on,
// without depending on internal/marketdata.
type fakePriceSource struct {
	trendBySymbol map[string]float64 // per-bar price delta
	err           map[string]error
}

func (f *fakePriceSource) Bars(symbol string, lookback int) ([]Bar, error) {
	if err, ok := f.err[symbol]; ok {
		return nil, err
	}
	trend, ok := f.trendBySymbol[symbol]
	if !ok {
		trend = 0
	}
	bars := make([]Bar, lookback)
	price := 100.0
	now := time.Now()
	for i := 0; i < lookback; i++ {
		price += trend
		bars[i] = Bar{
			Timestamp: now.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars, nil
}

func newTestEngine(t *testing.T, prices PriceSource) (*Engine, *Registry, *fakeLoader) {
	t.Helper()
	reg, loader := openTestRegistry(t)
	mgr := events.NewManager(events.NewBus(), zerolog.Nop())
	engine := NewEngine(reg, prices, mgr, zerolog.Nop())
	return engine, reg, loader
}

func activateSimpleModel(t *testing.T, reg *Registry, loader *fakeLoader, strategy string) {
	t.Helper()
	loader.byPath[strategy+".json"] = validModel(1.0)
	_, err := reg.Register(ModelMetadata{StrategyName: strategy, Version: "v1", ModelPath: strategy + ".json"})
	require.NoError(t, err)
	require.NoError(t, reg.Activate(strategy, "v1"))
}

func TestEngine_GenerateFailsClosedWithoutModel(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakePriceSource{})

	_, err := engine.Generate("momentum", "2024-01-15", []string{"AAPL"})
	require.Error(t, err)
}

func TestEngine_RankOrdersByPredictedReturnDescending(t *testing.T) {
	prices := &fakePriceSource{trendBySymbol: map[string]float64{
		"UP":   1.0,
		"FLAT": 0.0,
		"DOWN": -1.0,
	}}
	engine, reg, loader := newTestEngine(t, prices)
	activateSimpleModel(t, reg, loader, "momentum")

	result, err := engine.Generate("momentum", "2024-01-15", []string{"DOWN", "FLAT", "UP"})
	require.NoError(t, err)
	require.Len(t, result.Signals, 3)

	require.Equal(t, "UP", result.Signals[0].Symbol)
	require.Equal(t, 1, result.Signals[0].Rank)
	require.Equal(t, "DOWN", result.Signals[2].Symbol)
	require.Equal(t, 3, result.Signals[2].Rank)
}

func TestEngine_LongWeightsSumToOneShortWeightsSumToMinusOne(t *testing.T) {
	prices := &fakePriceSource{trendBySymbol: map[string]float64{
		"A": 2.0, "B": 1.5, "C": -1.0, "D": -2.0,
	}}
	engine, reg, loader := newTestEngine(t, prices)
	activateSimpleModel(t, reg, loader, "momentum")

	result, err := engine.Generate("momentum", "2024-01-15", []string{"A", "B", "C", "D"})
	require.NoError(t, err)

	var longSum, shortSum float64
	for _, s := range result.Signals {
		if s.TargetWeight > 0 {
			longSum += s.TargetWeight
		} else if s.TargetWeight < 0 {
			shortSum += s.TargetWeight
		}
	}
	require.InDelta(t, 1.0, longSum, 1e-9)
	require.InDelta(t, -1.0, shortSum, 1e-9)
}

func TestEngine_SkipsSymbolsWithUnavailableBars(t *testing.T) {
	prices := &fakePriceSource{
		trendBySymbol: map[string]float64{"AAPL": 1.0},
		err:           map[string]error{"MISSING": assertAnError()},
	}
	engine, reg, loader := newTestEngine(t, prices)
	activateSimpleModel(t, reg, loader, "momentum")

	result, err := engine.Generate("momentum", "2024-01-15", []string{"AAPL", "MISSING"})
	require.NoError(t, err)
	require.Len(t, result.Signals, 1)
	require.Equal(t, "AAPL", result.Signals[0].Symbol)
}

func assertAnError() error {
	return &fetchError{}
}

type fetchError struct{}

func (e *fetchError) Error() string { return "bars unavailable" }

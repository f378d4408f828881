package signal

import (
	"github.com/markcheno/go-talib"
)

// ComputeFeatures derives the named feature set a LinearModel consumes
// from a symbol's recent bars. Indicator computation follows
// pkg/formulas/{rsi,ema,bollinger}.go's pattern — call go-talib, take
// the last value, skip (rather than zero-fill with a lie) when there
// isn't enough history. A missing feature is treated as zero by
// LinearModel.Predict, the same "insufficient data" fallback the
// teacher's CalculateRSI/CalculateEMA use.
func ComputeFeatures(bars []Bar) map[string]float64 {
	features := make(map[string]float64)
	if len(bars) == 0 {
		return features
	}

	closes := make([]float64, len(bars))
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	if v, ok := lastValid(talib.Sma(closes, 20), 20, len(closes)); ok {
		features["sma_20"] = v
	}
	if v, ok := lastValid(talib.Rsi(closes, 14), 15, len(closes)); ok {
		features["rsi_14"] = v
	}
	if v, ok := lastValid(talib.Atr(highs, lows, closes, 14), 15, len(closes)); ok {
		features["atr_14"] = v
	}
	if v, ok := lastValid(talib.Ema(closes, 50), 50, len(closes)); ok {
		ema := v
		last := closes[len(closes)-1]
		if ema != 0 {
			features["distance_from_ema_50"] = (last - ema) / ema
		}
	}

	upper, _, lower := talib.BBands(closes, 20, 2, 2, 0)
	if len(upper) > 0 && len(lower) > 0 {
		u, l := upper[len(upper)-1], lower[len(lower)-1]
		width := u - l
		if width != 0 && !isNaN(u) && !isNaN(l) {
			features["bollinger_position"] = clamp((closes[len(closes)-1]-l)/width, 0, 1)
		}
	}

	return features
}

// lastValid returns series' last element when the source had at least
// minLen input observations and the computed value isn't NaN (talib
// pads its warm-up period with NaN rather than trimming the slice).
func lastValid(series []float64, minLen, available int) (float64, bool) {
	if available < minLen || len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if isNaN(v) {
		return 0, false
	}
	return v, true
}

func isNaN(f float64) bool { return f != f }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package orchestrator

import "math"

// sizeSignal applies the sizing rule from spec.md §4.3 to one signal:
// intended_notional = min(|weight|*capital, perSymbolCap); qty =
// floor(intended_notional / markPrice); side is buy for a positive
// weight, sell for negative. Returns qty == 0 when the signal should
// be skipped; the caller records every such skip under one reason,
// whether the weight was zero or the qty rounded down to zero.
func sizeSignal(weight, capital, perSymbolCap, markPrice float64) (qty int64, side string) {
	if weight >= 0 {
		side = "buy"
	} else {
		side = "sell"
	}
	if markPrice <= 0 {
		return 0, side
	}

	notional := math.Abs(weight) * capital
	if notional > perSymbolCap {
		notional = perSymbolCap
	}
	qty = int64(math.Floor(notional / markPrice))
	return qty, side
}

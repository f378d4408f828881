package orchestrator

import "testing"

func TestSizeSignal_AppliesPerSymbolCapBeforeMarkPrice(t *testing.T) {
	qty, side := sizeSignal(1.0, 100000, 5000, 100)
	if side != "buy" {
		t.Fatalf("expected buy, got %s", side)
	}
	if qty != 50 { // capped at 5000 notional / 100 price
		t.Fatalf("expected 50 shares, got %d", qty)
	}
}

func TestSizeSignal_NegativeWeightIsSell(t *testing.T) {
	_, side := sizeSignal(-0.5, 100000, 5000, 100)
	if side != "sell" {
		t.Fatalf("expected sell, got %s", side)
	}
}

func TestSizeSignal_FloorsFractionalShares(t *testing.T) {
	qty, _ := sizeSignal(0.1, 1000, 5000, 33)
	// intended_notional = 0.1*1000 = 100, qty = floor(100/33) = 3
	if qty != 3 {
		t.Fatalf("expected 3, got %d", qty)
	}
}

func TestSizeSignal_ZeroMarkPriceYieldsZeroQty(t *testing.T) {
	qty, _ := sizeSignal(1.0, 100000, 5000, 0)
	if qty != 0 {
		t.Fatalf("expected 0 qty on missing price, got %d", qty)
	}
}

func TestSizeSignal_ZeroWeightYieldsZeroQty(t *testing.T) {
	qty, _ := sizeSignal(0, 100000, 5000, 100)
	if qty != 0 {
		t.Fatalf("expected 0 qty for zero weight, got %d", qty)
	}
}

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DeterministicClientOrderID computes client_order_id = truncated hash of
// (symbol | side | qty | limit_price | strategy_id | trade_date). The same
// request within a trade date always yields the same id, so retries after
// any failure are free — the gateway's submit path checks the ledger for
// this id before ever calling the broker.
func DeterministicClientOrderID(symbol, side string, qty int64, limitPrice *float64, strategyID, tradeDate string) string {
	priceComponent := "mkt"
	if limitPrice != nil {
		priceComponent = fmt.Sprintf("%.4f", *limitPrice)
	}

	message := fmt.Sprintf("%s|%s|%d|%s|%s|%s", symbol, side, qty, priceComponent, strategyID, tradeDate)

	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])[:20]
}

// SliceClientOrderID derives a deterministic child id for a TWAP slice from
// its parent, zero-padded so lexicographic and numeric order agree.
func SliceClientOrderID(parentID string, sliceIndex int) string {
	return fmt.Sprintf("%s-%03d", parentID, sliceIndex)
}

// Package marketdata maintains the live quote cache every service reads
// a mark-price off: a reconnecting WebSocket stream writes each tick into
// an in-process cache and the shared risk-store price cache, and a
// msgpack-encoded snapshot survives process restarts so a cold-started
// gateway isn't immediately fail-closed on every symbol.
package marketdata

import "time"

// Quote is one real-time price observation.
type Quote struct {
	Symbol    string    `msgpack:"symbol"`
	Last      float64   `msgpack:"last"`
	Bid       float64   `msgpack:"bid"`
	Ask       float64   `msgpack:"ask"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// wsQuoteData is the broker WebSocket's per-tick payload, the quote-feed
// analogue of the teacher's WSMarketData.
type wsQuoteData struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp string  `json:"timestamp"`
}

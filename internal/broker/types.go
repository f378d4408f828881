// Package broker provides a broker-agnostic client for order submission,
// rate-limited the way tradernet's SDK and the gate.io adapter in the
// reference pack do, plus webhook signature verification.
package broker

import "time"

// OrderSide mirrors the ledger's side enum.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest is what the gateway sends to the broker after gates pass.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Qty           int64
	OrderType     OrderType
	LimitPrice    *float64
	TimeInForce   string
}

// OrderAck is the broker's synchronous response to a submit call.
type OrderAck struct {
	BrokerOrderID string
	Status        string
	FilledQty     int64
	AvgFillPrice  float64
}

// BrokerOrder is a single order as reported by the broker's open/recent
// orders endpoint, used by reconciliation.
type BrokerOrder struct {
	BrokerOrderID string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Qty           int64
	FilledQty     int64
	AvgFillPrice  float64
	Status        string
	UpdatedAt     time.Time
}

// Position is a broker-reported position, used by reconciliation to
// overwrite local snapshots with authoritative state.
type Position struct {
	Symbol        string
	Qty           int64
	AvgEntryPrice float64
}

// Quote is a single real-time price observation.
type Quote struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// Bar is one OHLCV observation, consumed by the signal engine's feature
// computation.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

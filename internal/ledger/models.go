package ledger

import "time"

// OrderStatus is the order state machine's current position.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusSubmitted       OrderStatus = "submitted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusDryRun          OrderStatus = "dry_run"
	StatusError           OrderStatus = "error"
)

// Terminal reports whether s is a terminal state; terminal orders are
// immutable except for reconciliation corrections with a strictly higher
// status_sequence.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusError:
		return true
	default:
		return false
	}
}

// StatusSource tags which subsystem authored a CAS write, used to break
// ties when two writers race on the same order.
type StatusSource string

const (
	SourceWebhook        StatusSource = "webhook"
	SourceReconciliation StatusSource = "reconciliation"
	SourceInternal       StatusSource = "internal"
)

// priority ranks sources for conflict resolution: webhook beats
// reconciliation beats internal timer; ties break on higher sequence.
var priority = map[StatusSource]int{
	SourceWebhook:        3,
	SourceReconciliation: 2,
	SourceInternal:       1,
}

// Outranks reports whether a write tagged s should win over one tagged
// other when both target the same status_sequence.
func (s StatusSource) Outranks(other StatusSource) bool {
	return priority[s] > priority[other]
}

// Order is the ledger's row of truth for a single client order.
type Order struct {
	ClientOrderID  string
	BrokerOrderID  *string
	Symbol         string
	Side           string
	Qty            int64
	OrderType      string
	LimitPrice     *float64
	TimeInForce    string
	Status         OrderStatus
	FilledQty      int64
	AvgFillPrice   float64
	StrategyID     string
	TradeDate      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StatusSource   StatusSource
	StatusSequence int64
}

// Fill is an append-only execution record; sum(fills.qty) == order.filled_qty.
type Fill struct {
	FillID        int64
	ClientOrderID string
	Qty           int64
	Price         float64
	Timestamp     time.Time
}

// PositionSnapshot mirrors the broker's authoritative position for a
// symbol, refreshed by webhook fills and reconciliation.
type PositionSnapshot struct {
	Symbol           string
	Qty              int64
	AvgEntryPrice    float64
	LastReconciledAt time.Time
}

// OrphanOrder records a broker order found during reconciliation with no
// matching deterministic client_order_id, pending operator review.
type OrphanOrder struct {
	BrokerOrderID string
	Symbol        string
	DiscoveredAt  time.Time
	Note          string
}

package events

// EventData is implemented by every typed event payload so handlers can
// type-switch on EventType() instead of inspecting a bare map.
type EventData interface {
	EventType() EventType
}

// SignalsGeneratedData accompanies SignalsGenerated.
type SignalsGeneratedData struct {
	StrategyID string `json:"strategy_id"`
	AsOfDate   string `json:"as_of_date"`
	NumSignals int    `json:"num_signals"`
}

func (d *SignalsGeneratedData) EventType() EventType { return SignalsGenerated }

// PriceUpdatedData accompanies PriceUpdated.
type PriceUpdatedData struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Bid    float64 `json:"bid,omitempty"`
	Ask    float64 `json:"ask,omitempty"`
}

func (d *PriceUpdatedData) EventType() EventType { return PriceUpdated }

// OrderAcceptedData accompanies OrderAccepted.
type OrderAcceptedData struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Qty           int64  `json:"qty"`
	Status        string `json:"status"`
}

func (d *OrderAcceptedData) EventType() EventType { return OrderAccepted }

// OrderStatusChangedData accompanies OrderStatusChanged.
type OrderStatusChangedData struct {
	ClientOrderID  string `json:"client_order_id"`
	FromStatus     string `json:"from_status"`
	ToStatus       string `json:"to_status"`
	StatusSource   string `json:"status_source"`
	StatusSequence int64  `json:"status_sequence"`
}

func (d *OrderStatusChangedData) EventType() EventType { return OrderStatusChanged }

// KillSwitchChangedData accompanies KillSwitchChanged.
type KillSwitchChangedData struct {
	Engaged bool   `json:"engaged"`
	Actor   string `json:"actor,omitempty"`
}

func (d *KillSwitchChangedData) EventType() EventType { return KillSwitchChanged }

// CircuitBreakerChangedData accompanies CircuitBreakerChanged.
type CircuitBreakerChangedData struct {
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
	TripReason string `json:"trip_reason,omitempty"`
}

func (d *CircuitBreakerChangedData) EventType() EventType { return CircuitBreakerChanged }

// SymbolQuarantinedData accompanies SymbolQuarantined.
type SymbolQuarantinedData struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

func (d *SymbolQuarantinedData) EventType() EventType { return SymbolQuarantined }

// ReconciliationCompletedData accompanies ReconciliationCompleted.
type ReconciliationCompletedData struct {
	MatchedCount  int    `json:"matched_count"`
	OrphanCount   int    `json:"orphan_count"`
	ErroredCount  int    `json:"errored_count"`
	HighWaterMark string `json:"high_water_mark"`
}

func (d *ReconciliationCompletedData) EventType() EventType { return ReconciliationCompleted }

// ModelActivatedData accompanies ModelActivated.
type ModelActivatedData struct {
	StrategyName string `json:"strategy_name"`
	Version      string `json:"version"`
}

func (d *ModelActivatedData) EventType() EventType { return ModelActivated }

// OrchestrationRunCompletedData accompanies OrchestrationRunCompleted.
type OrchestrationRunCompletedData struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Submitted int    `json:"num_orders_submitted"`
	Accepted  int    `json:"num_orders_accepted"`
	Rejected  int    `json:"num_orders_rejected"`
}

func (d *OrchestrationRunCompletedData) EventType() EventType { return OrchestrationRunCompleted }

// ErrorEventData accompanies ErrorOccurred.
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

package events

// EventType names a category of domain event flowing through the bus.
// Pub/sub is best-effort: consumers must never rely on delivery or
// ordering for correctness, only for telemetry and operator tooling.
type EventType string

const (
	// SignalsGenerated fires after the signal engine computes a set of
	// target weights for a (strategy, as_of_date) pair.
	SignalsGenerated EventType = "signals.generated"
	// PriceUpdated fires when a new mark is cached for a symbol. The
	// symbol itself travels in the event payload, not the type, since
	// EventType is a fixed enum shared across subscribers.
	PriceUpdated EventType = "price.updated"
	// OrderAccepted fires when the gateway accepts an order: a dry-run
	// order once persisted, or a live order once the broker acknowledges
	// it. Orders refused by the gate or rejected by the broker do not
	// emit it.
	OrderAccepted EventType = "order.accepted"
	// OrderStatusChanged fires when a broker webhook's status transition
	// is applied to the ledger.
	OrderStatusChanged EventType = "order.status_changed"
	// KillSwitchChanged fires when an operator engages or disengages
	// the kill switch.
	KillSwitchChanged EventType = "risk.kill_switch_changed"
	// CircuitBreakerChanged fires on any breaker state transition.
	CircuitBreakerChanged EventType = "risk.circuit_breaker_changed"
	// SymbolQuarantined fires when reconciliation quarantines a symbol.
	SymbolQuarantined EventType = "risk.symbol_quarantined"
	// ReconciliationCompleted fires after each reconciliation cycle.
	ReconciliationCompleted EventType = "reconciliation.completed"
	// ModelActivated fires when the registry swaps the active model
	// version for a strategy.
	ModelActivated EventType = "model.activated"
	// OrchestrationRunCompleted fires after an orchestrator run persists
	// its summary record.
	OrchestrationRunCompleted EventType = "orchestration.run_completed"
	// ErrorOccurred carries an out-of-band error worth surfacing to
	// operator tooling (logs) without failing the caller.
	ErrorOccurred EventType = "error.occurred"
)

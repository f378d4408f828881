// Package reconciliation implements the startup gate and periodic
// broker-ledger diff: the algorithm that proves the ledger matches
// broker truth before any order may leave, and repairs drift afterward.
package reconciliation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/ledger"
	"github.com/aristath/tradeplane/internal/risk"
)

// Engine runs one reconciliation cycle per Run call; the scheduler is
// responsible for periodicity.
type Engine struct {
	repo        *ledger.Repository
	risk        *risk.Store
	broker      broker.Client
	events      *events.Manager
	log         zerolog.Logger
	graceWindow time.Duration
	overlap     time.Duration
}

// Config configures an Engine.
type Config struct {
	// GraceWindow bounds how long a local non-terminal order may be
	// missing from the broker response before it's advanced to error —
	// the broker likely never accepted it.
	GraceWindow time.Duration
	// Overlap widens the high-water-mark query window backward, so a
	// broker order that landed just before the last cycle's cutoff is
	// never missed to a clock-skew gap.
	Overlap time.Duration
}

// NewEngine builds a reconciliation Engine.
func NewEngine(repo *ledger.Repository, riskStore *risk.Store, brokerClient broker.Client, eventMgr *events.Manager, cfg Config, log zerolog.Logger) *Engine {
	grace := cfg.GraceWindow
	if grace == 0 {
		grace = 5 * time.Minute
	}
	overlap := cfg.Overlap
	if overlap == 0 {
		overlap = 30 * time.Second
	}
	return &Engine{
		repo: repo, risk: riskStore, broker: brokerClient, events: eventMgr,
		log: log.With().Str("component", "reconciliation").Logger(),
		graceWindow: grace, overlap: overlap,
	}
}

// Result summarizes one cycle's counts.
type Result struct {
	Matched int
	Orphans int
	Errored int
}

// Run executes one reconciliation cycle per the spec's seven-step
// algorithm, then advances the gate: first successful run opens it.
func (e *Engine) Run(ctx context.Context) error {
	hwm, err := e.repo.HighWaterMark()
	if err != nil {
		return err
	}
	since := hwm.Add(-e.overlap)

	brokerOrders, err := e.fetchBrokerOrders(ctx, since)
	if err != nil {
		e.events.EmitError("reconciliation", err, nil)
		return err
	}

	localOrders, err := e.repo.ListNonTerminal()
	if err != nil {
		return err
	}
	localByID := make(map[string]*ledger.Order, len(localOrders))
	for _, o := range localOrders {
		localByID[o.ClientOrderID] = o
	}

	result := Result{}
	latestSeen := hwm

	for _, bo := range brokerOrders {
		if bo.UpdatedAt.After(latestSeen) {
			latestSeen = bo.UpdatedAt
		}

		local, present := localByID[bo.ClientOrderID]
		if present {
			e.reconcileMatched(local, bo)
			delete(localByID, bo.ClientOrderID)
			result.Matched++
			continue
		}

		e.handleOrphan(bo)
		result.Orphans++
	}

	for _, local := range localByID {
		if time.Since(local.UpdatedAt) > e.graceWindow {
			_ = e.repo.ApplyTransition(ledger.Transition{
				ClientOrderID: local.ClientOrderID,
				ExpectedSeq:   local.StatusSequence,
				NewStatus:     ledger.StatusError,
				Source:        ledger.SourceReconciliation,
			})
			_ = e.risk.ReleaseReservation(local.ClientOrderID)
			result.Errored++
		}
	}

	if err := e.reconcilePositions(ctx); err != nil {
		e.events.EmitError("reconciliation", err, nil)
		return err
	}

	if latestSeen.After(hwm) {
		if err := e.repo.AdvanceHighWaterMark(latestSeen); err != nil {
			return err
		}
	}

	if err := e.risk.SetReconciliationGate(risk.GateOpen, latestSeen); err != nil {
		return err
	}

	e.events.Emit("reconciliation", &events.ReconciliationCompletedData{
		MatchedCount: result.Matched, OrphanCount: result.Orphans, ErroredCount: result.Errored,
		HighWaterMark: latestSeen.Format(time.RFC3339),
	})
	return nil
}

func (e *Engine) fetchBrokerOrders(ctx context.Context, since time.Time) ([]broker.BrokerOrder, error) {
	open, err := e.broker.GetOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := e.broker.GetOrdersSince(ctx, since)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	merged := make([]broker.BrokerOrder, 0, len(open)+len(recent))
	for _, o := range append(open, recent...) {
		if seen[o.BrokerOrderID] {
			continue
		}
		seen[o.BrokerOrderID] = true
		merged = append(merged, o)
	}
	return merged, nil
}

// reconcileMatched applies the broker's view with source=reconciliation,
// which the ledger's CAS only accepts if it doesn't lose to a
// higher-priority (webhook) writer already further along.
func (e *Engine) reconcileMatched(local *ledger.Order, bo broker.BrokerOrder) {
	err := e.repo.ApplyTransition(ledger.Transition{
		ClientOrderID:  local.ClientOrderID,
		ExpectedSeq:    local.StatusSequence,
		NewStatus:      ledger.OrderStatus(bo.Status),
		NewFilledQty:   bo.FilledQty,
		NewAvgFillPx:   bo.AvgFillPrice,
		NewBrokerOrder: &bo.BrokerOrderID,
		Source:         ledger.SourceReconciliation,
	})
	if err != nil && err != ledger.ErrSequenceConflict {
		e.log.Error().Err(err).Str("client_order_id", local.ClientOrderID).Msg("reconciliation transition failed")
	}
	if ledger.OrderStatus(bo.Status).Terminal() {
		_ = e.risk.ReleaseReservation(local.ClientOrderID)
	}
}

// handleOrphan absorbs a broker order with no matching local row: if its
// id matches the deterministic scheme in shape, insert it; otherwise
// quarantine the symbol.
func (e *Engine) handleOrphan(bo broker.BrokerOrder) {
	if looksDeterministic(bo.ClientOrderID) {
		order := &ledger.Order{
			ClientOrderID: bo.ClientOrderID,
			BrokerOrderID: &bo.BrokerOrderID,
			Symbol:        bo.Symbol,
			Side:          string(bo.Side),
			Qty:           bo.Qty,
			OrderType:     "market",
			Status:        ledger.OrderStatus(bo.Status),
			FilledQty:     bo.FilledQty,
			AvgFillPrice:  bo.AvgFillPrice,
			TradeDate:     bo.UpdatedAt.UTC().Format("2006-01-02"),
			StatusSource:  ledger.SourceReconciliation,
		}
		if err := e.repo.Insert(order); err != nil {
			e.log.Error().Err(err).Str("broker_order_id", bo.BrokerOrderID).Msg("failed to absorb orphan order")
		}
		return
	}

	if err := e.risk.Quarantine(bo.Symbol, "orphan broker order with non-deterministic client_order_id"); err != nil {
		e.log.Error().Err(err).Str("symbol", bo.Symbol).Msg("failed to quarantine symbol")
	}
	if err := e.repo.InsertOrphan(ledger.OrphanOrder{
		BrokerOrderID: bo.BrokerOrderID, Symbol: bo.Symbol, Note: "client_order_id does not match deterministic scheme",
	}); err != nil {
		e.log.Error().Err(err).Str("broker_order_id", bo.BrokerOrderID).Msg("failed to record orphan")
	}
	e.events.Emit("reconciliation", &events.SymbolQuarantinedData{Symbol: bo.Symbol, Reason: "unresolved orphan order"})
}

func (e *Engine) reconcilePositions(ctx context.Context) error {
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if err := e.repo.UpsertPositionSnapshot(ledger.PositionSnapshot{
			Symbol: p.Symbol, Qty: p.Qty, AvgEntryPrice: p.AvgEntryPrice, LastReconciledAt: time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// looksDeterministic reports whether id has the shape of
// ledger.DeterministicClientOrderID's output: a 20-character hex string,
// optionally followed by a "-NNN" slice suffix.
func looksDeterministic(id string) bool {
	base := id
	if len(id) > 20 && id[20] == '-' {
		base = id[:20]
	}
	if len(base) != 20 {
		return false
	}
	for _, c := range base {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// Name implements scheduler.Job.
func (e *Engine) Name() string { return "reconciliation" }

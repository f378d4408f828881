// Package execution implements the Execution Gateway: the pre-trade gate
// pipeline, idempotent order submission, and webhook ingestion. Its
// numbered-layer gate structure is grounded on the teacher's
// TradeSafetyService.ValidateTrade, generalized from portfolio-research
// safety rules to the spec's fail-closed risk-substrate checks.
package execution

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/apperr"
	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/ledger"
	"github.com/aristath/tradeplane/internal/risk"
)

// OrderRequest is the inbound submit_order payload.
type OrderRequest struct {
	Symbol      string
	Side        string
	Qty         int64
	OrderType   string
	LimitPrice  *float64
	TimeInForce string
	StrategyID  string

	// ClientOrderIDOverride, when set, is used verbatim instead of
	// deriving one from (symbol, side, qty, limit_price, strategy_id,
	// trade_date). TWAP slicing needs this: equal-sized slices of the
	// same parent order otherwise hash to the same derived id and
	// collapse into a single submission via the idempotency check.
	ClientOrderIDOverride string
}

// FatFingerThresholds bounds a single order's notional and quantity;
// exceeding the warn band logs, exceeding the reject band refuses.
type FatFingerThresholds struct {
	WarnNotional   float64
	RejectNotional float64
	WarnQty        int64
	RejectQty      int64
}

// Gateway runs the pre-trade gate pipeline and owns order submission.
type Gateway struct {
	repo         *ledger.Repository
	risk         *risk.Store
	broker       broker.Client
	events       *events.Manager
	log          zerolog.Logger
	dryRun       bool
	dryRunTTL    time.Duration
	positionLim  map[string]int64
	defaultLim   int64
	fatFinger    FatFingerThresholds
	tradeDateFn  func() string
	startupGated bool
}

// Config configures a Gateway.
type Config struct {
	DryRun             bool
	DryRunReservationTTL time.Duration
	PositionLimits     map[string]int64
	DefaultPositionLimit int64
	FatFinger          FatFingerThresholds
	TradeDate          func() string
}

// New builds a Gateway. It starts with startup gating engaged — Submit
// returns fail-closed 503 until MarkReconciled is called once.
func New(repo *ledger.Repository, riskStore *risk.Store, brokerClient broker.Client, eventMgr *events.Manager, cfg Config, log zerolog.Logger) *Gateway {
	tradeDateFn := cfg.TradeDate
	if tradeDateFn == nil {
		tradeDateFn = func() string { return time.Now().UTC().Format("2006-01-02") }
	}
	ttl := cfg.DryRunReservationTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &Gateway{
		repo:         repo,
		risk:         riskStore,
		broker:       brokerClient,
		events:       eventMgr,
		log:          log.With().Str("component", "execution-gateway").Logger(),
		dryRun:       cfg.DryRun,
		dryRunTTL:    ttl,
		positionLim:  cfg.PositionLimits,
		defaultLim:   cfg.DefaultPositionLimit,
		fatFinger:    cfg.FatFinger,
		tradeDateFn:  tradeDateFn,
		startupGated: true,
	}
}

// MarkReconciled lifts the startup gate; called once startup
// reconciliation succeeds at least once.
func (g *Gateway) MarkReconciled() {
	g.startupGated = false
}

// StartupGateOpen reports whether the service may accept submits.
func (g *Gateway) StartupGateOpen() bool {
	return !g.startupGated
}

func (g *Gateway) positionLimit(symbol string) int64 {
	if lim, ok := g.positionLim[symbol]; ok {
		return lim
	}
	return g.defaultLim
}

// Submit runs the full pre-trade gate order from the spec: idempotency
// check, kill switch, circuit breaker, reconciliation gate, reservation +
// limit check, fat-finger bands, persist, then dry-run or broker submit.
// Every step short-circuits with a typed apperr, never silently.
func (g *Gateway) Submit(ctx context.Context, req OrderRequest, markPrice float64) (*ledger.Order, error) {
	if g.startupGated {
		return nil, apperr.New(apperr.KindFailClosed, "startup_gate_closed", "startup reconciliation has not yet succeeded")
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	tradeDate := g.tradeDateFn()
	clientOrderID := req.ClientOrderIDOverride
	if clientOrderID == "" {
		clientOrderID = ledger.DeterministicClientOrderID(req.Symbol, req.Side, req.Qty, req.LimitPrice, req.StrategyID, tradeDate)
	}

	// Step 1: idempotency — a prior row for this id is returned unchanged.
	if existing, err := g.repo.FindByClientOrderID(clientOrderID); err == nil {
		return existing, nil
	} else if err != ledger.ErrNotFound {
		return nil, apperr.Wrap(apperr.KindInternal, "ledger_read_failed", "could not check ledger for existing order", err)
	}

	// Step 2: kill switch.
	engaged, err := g.risk.KillSwitchEngaged()
	if err != nil || engaged {
		return nil, apperr.New(apperr.KindFailClosed, "kill_switch_engaged", "kill switch is engaged or unreadable")
	}

	// Step 3: circuit breaker.
	state, err := g.risk.CircuitBreakerState()
	if err != nil || state != risk.CircuitOpen {
		return nil, apperr.New(apperr.KindFailClosed, "circuit_breaker_tripped", "circuit breaker is not open")
	}

	// Step 4: reconciliation gate.
	gateState, _, err := g.risk.ReconciliationGateState()
	if err != nil {
		return nil, apperr.New(apperr.KindFailClosed, "reconciliation_gate_unreadable", "reconciliation gate state unavailable")
	}
	signedQty := req.Qty
	if req.Side == "sell" {
		signedQty = -req.Qty
	}
	if gateState == risk.GateClosed {
		return nil, apperr.New(apperr.KindFailClosed, "reconciliation_gate_closed", "reconciliation gate is closed")
	}
	quarantined, err := g.risk.IsQuarantined(req.Symbol)
	if err != nil {
		return nil, apperr.New(apperr.KindFailClosed, "quarantine_unreadable", "quarantine state unavailable")
	}
	if gateState == risk.GateReduceOnly {
		currentPos, err := g.currentPosition(req.Symbol)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "position_read_failed", "could not read current position", err)
		}
		if !strictlyReduces(currentPos, signedQty) {
			return nil, apperr.New(apperr.KindQuarantine, "reduce_only_violation", "reconciliation gate is reduce-only; order does not reduce position")
		}
		if quarantined {
			return nil, apperr.New(apperr.KindQuarantine, "symbol_quarantined", fmt.Sprintf("%s is quarantined", req.Symbol))
		}
	}
	if quarantined {
		pos, err := g.currentPosition(req.Symbol)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "position_read_failed", "could not read current position", err)
		}
		if increasesExposure(pos, signedQty) {
			return nil, apperr.New(apperr.KindQuarantine, "symbol_quarantined", fmt.Sprintf("%s is quarantined", req.Symbol))
		}
	}

	// Step 5: reservation + position limit.
	currentPos, err := g.currentPosition(req.Symbol)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "position_read_failed", "could not read current position", err)
	}
	limit := g.positionLimit(req.Symbol)
	if _, err := g.risk.ReserveAndCheck(req.Symbol, clientOrderID, signedQty, currentPos, limit, g.dryRunTTL*20); err != nil {
		return nil, apperr.Wrap(apperr.KindRiskViolation, "position_limit_breach", "order would breach position limit", err)
	}

	// Step 6: fat-finger bands.
	notional := markPrice * float64(req.Qty)
	if g.fatFinger.RejectNotional > 0 && notional > g.fatFinger.RejectNotional {
		_ = g.risk.ReleaseReservation(clientOrderID)
		return nil, apperr.New(apperr.KindRiskViolation, "fat_finger_notional", fmt.Sprintf("notional %.2f exceeds reject band %.2f", notional, g.fatFinger.RejectNotional))
	}
	if g.fatFinger.RejectQty > 0 && req.Qty > g.fatFinger.RejectQty {
		_ = g.risk.ReleaseReservation(clientOrderID)
		return nil, apperr.New(apperr.KindRiskViolation, "fat_finger_qty", fmt.Sprintf("qty %d exceeds reject band %d", req.Qty, g.fatFinger.RejectQty))
	}
	if g.fatFinger.WarnNotional > 0 && notional > g.fatFinger.WarnNotional {
		g.log.Warn().Str("symbol", req.Symbol).Float64("notional", notional).Msg("order notional in fat-finger warn band")
	}
	if g.fatFinger.WarnQty > 0 && req.Qty > g.fatFinger.WarnQty {
		g.log.Warn().Str("symbol", req.Symbol).Int64("qty", req.Qty).Msg("order qty in fat-finger warn band")
	}

	// Step 7: persist pending, then dry-run or broker submit.
	order := &ledger.Order{
		ClientOrderID: clientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           req.Qty,
		OrderType:     req.OrderType,
		LimitPrice:    req.LimitPrice,
		TimeInForce:   req.TimeInForce,
		Status:        ledger.StatusPending,
		StrategyID:    req.StrategyID,
		TradeDate:     tradeDate,
		StatusSource:  ledger.SourceInternal,
	}
	if err := g.repo.Insert(order); err != nil {
		_ = g.risk.ReleaseReservation(clientOrderID)
		return nil, apperr.Wrap(apperr.KindInternal, "ledger_insert_failed", "could not persist order", err)
	}

	if g.dryRun {
		if err := g.repo.ApplyTransition(ledger.Transition{
			ClientOrderID: clientOrderID, ExpectedSeq: 0, NewStatus: ledger.StatusDryRun, Source: ledger.SourceInternal,
		}); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "ledger_transition_failed", "could not mark order dry-run", err)
		}
		order.Status = ledger.StatusDryRun
		g.events.Emit("execution", &events.OrderAcceptedData{ClientOrderID: clientOrderID, Symbol: req.Symbol, Status: string(ledger.StatusDryRun)})
		go g.releaseAfterTTL(clientOrderID)
		return order, nil
	}

	return g.submitToBroker(ctx, order)
}

func (g *Gateway) submitToBroker(ctx context.Context, order *ledger.Order) (*ledger.Order, error) {
	brokerReq := broker.OrderRequest{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          broker.OrderSide(order.Side),
		Qty:           order.Qty,
		OrderType:     broker.OrderType(order.OrderType),
		LimitPrice:    order.LimitPrice,
		TimeInForce:   order.TimeInForce,
	}

	ack, err := g.retryingSubmit(ctx, brokerReq)
	if err != nil {
		var permErr *broker.PermanentError
		if isPermanent(err, &permErr) {
			_ = g.repo.ApplyTransition(ledger.Transition{
				ClientOrderID: order.ClientOrderID, ExpectedSeq: 0, NewStatus: ledger.StatusRejected, Source: ledger.SourceInternal,
			})
			_ = g.risk.ReleaseReservation(order.ClientOrderID)
			order.Status = ledger.StatusRejected
			return order, apperr.Wrap(apperr.KindPermanentBroker, "broker_rejected", "broker rejected the order", err)
		}
		return nil, apperr.Wrap(apperr.KindTransientBroker, "broker_unreachable", "broker submit failed after retries", err)
	}

	status := ledger.StatusSubmitted
	if ack.FilledQty > 0 && ack.FilledQty < order.Qty {
		status = ledger.StatusPartiallyFilled
	} else if ack.FilledQty >= order.Qty {
		status = ledger.StatusFilled
	}

	if err := g.repo.ApplyTransition(ledger.Transition{
		ClientOrderID: order.ClientOrderID, ExpectedSeq: 0, NewStatus: status,
		NewFilledQty: ack.FilledQty, NewAvgFillPx: ack.AvgFillPrice, NewBrokerOrder: &ack.BrokerOrderID,
		Source: ledger.SourceInternal,
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "ledger_transition_failed", "broker accepted order but ledger update failed", err)
	}

	order.Status = status
	order.BrokerOrderID = &ack.BrokerOrderID
	order.FilledQty = ack.FilledQty
	order.AvgFillPrice = ack.AvgFillPrice
	g.events.Emit("execution", &events.OrderAcceptedData{ClientOrderID: order.ClientOrderID, Symbol: order.Symbol, Status: string(status)})
	return order, nil
}

// retryingSubmit retries transient broker errors with capped exponential
// backoff and jitter; permanent errors return immediately.
func (g *Gateway) retryingSubmit(ctx context.Context, req broker.OrderRequest) (*broker.OrderAck, error) {
	const maxAttempts = 4
	base := 200 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		ack, err := g.broker.SubmitOrder(ctx, req)
		if err == nil {
			return ack, nil
		}
		lastErr = err

		var permErr *broker.PermanentError
		if isPermanent(err, &permErr) {
			return nil, err
		}

		if attempt == maxAttempts-1 {
			break
		}
		backoff := base * time.Duration(1<<attempt)
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func isPermanent(err error, target **broker.PermanentError) bool {
	for err != nil {
		if pe, ok := err.(*broker.PermanentError); ok {
			*target = pe
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func (g *Gateway) releaseAfterTTL(clientOrderID string) {
	time.Sleep(g.dryRunTTL)
	_ = g.risk.ReleaseReservation(clientOrderID)
}

// currentPosition returns the last broker-reconciled position for
// symbol; the risk store's reservation count is layered on top of this
// by ReserveAndCheck, matching the spec's "added to current position for
// limit checks" rule. A symbol with no snapshot yet (never reconciled)
// is treated as flat.
func (g *Gateway) currentPosition(symbol string) (int64, error) {
	snapshot, err := g.repo.FindPositionSnapshot(symbol)
	if err == ledger.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return snapshot.Qty, nil
}

func validateRequest(req OrderRequest) error {
	if req.Qty == 0 {
		return apperr.New(apperr.KindValidation, "qty_zero", "qty must be non-zero")
	}
	if req.Side != "buy" && req.Side != "sell" {
		return apperr.New(apperr.KindValidation, "invalid_side", "side must be buy or sell")
	}
	if req.OrderType == "limit" && req.LimitPrice == nil {
		return apperr.New(apperr.KindValidation, "limit_price_required", "limit_price is required for limit orders")
	}
	return nil
}

func strictlyReduces(currentPosition, signedDelta int64) bool {
	if currentPosition == 0 {
		return false
	}
	if currentPosition > 0 {
		return signedDelta < 0 && currentPosition+signedDelta >= 0
	}
	return signedDelta > 0 && currentPosition+signedDelta <= 0
}

func increasesExposure(currentPosition, signedDelta int64) bool {
	return !strictlyReduces(currentPosition, signedDelta)
}

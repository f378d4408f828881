package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/risk"
)

const priceCacheTTL = 300 * time.Second

// SignalGenerator is the subset of SignalClient the orchestrator needs,
// kept as an interface so tests supply a fake instead of an HTTP server.
type SignalGenerator interface {
	Generate(ctx context.Context, strategy, asOfDate string, symbols []string) ([]Signal, error)
}

// OrderSubmitter is the subset of GatewayClient the orchestrator needs.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*SubmitOrderResponse, error)
}

// RunRequest is the orchestrator's public input, mirroring the
// Orchestrator HTTP API's request body in spec.md §6.
type RunRequest struct {
	Symbols         []string
	Strategy        string
	Capital         float64
	MaxPositionSize float64
	AsOfDate        string
}

// Orchestrator converts a strategy's signal set into gateway order
// submissions for one run.
type Orchestrator struct {
	signals  SignalGenerator
	gateway  OrderSubmitter
	risk     *risk.Store
	repo     *Repository
	events   *events.Manager
	log      zerolog.Logger
	runIDGen func() string
	maxRetry int
}

// Config configures an Orchestrator.
type Config struct {
	// RunIDGen generates a run id; defaults to a random UUID. Overridable
	// for deterministic tests.
	RunIDGen func() string
	MaxRetry int
}

// New builds an Orchestrator.
func New(signals SignalGenerator, gateway OrderSubmitter, riskStore *risk.Store, repo *Repository, mgr *events.Manager, cfg Config, log zerolog.Logger) *Orchestrator {
	maxRetry := cfg.MaxRetry
	if maxRetry == 0 {
		maxRetry = 3
	}
	runIDGen := cfg.RunIDGen
	if runIDGen == nil {
		runIDGen = defaultRunIDGen
	}
	return &Orchestrator{
		signals:  signals,
		gateway:  gateway,
		risk:     riskStore,
		repo:     repo,
		events:   mgr,
		log:      log.With().Str("component", "orchestrator").Logger(),
		runIDGen: runIDGen,
		maxRetry: maxRetry,
	}
}

func defaultRunIDGen() string {
	return uuid.New().String()
}

// Run fetches signals, sizes them into orders, submits sequentially,
// and persists the run record before returning — per spec.md §4.3,
// "the run record ... is persisted before returning" regardless of
// outcome.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunRecord, error) {
	started := time.Now()
	run := &RunRecord{
		RunID:     o.runIDGen(),
		Strategy:  req.Strategy,
		AsOfDate:  req.AsOfDate,
		StartedAt: started,
	}

	signals, err := o.signals.Generate(ctx, req.Strategy, req.AsOfDate, req.Symbols)
	if err != nil {
		run.Status = RunFailed
		run.Duration = time.Since(started)
		if saveErr := o.repo.Save(run); saveErr != nil {
			o.log.Error().Err(saveErr).Msg("failed to persist failed run record")
		}
		return run, fmt.Errorf("fetch signals: %w", err)
	}
	run.NumSignals = len(signals)

	for _, sig := range signals {
		mapping := o.processSignal(ctx, req, sig)
		run.Mappings = append(run.Mappings, mapping)
		switch {
		case mapping.SkipReason != nil:
			run.Skipped++
		case mapping.Accepted:
			run.Submitted++
			run.Accepted++
		case mapping.Rejected:
			run.Submitted++
			run.Rejected++
		}
	}

	run.Duration = time.Since(started)
	run.Status = o.finalStatus(run)

	if err := o.repo.Save(run); err != nil {
		o.log.Error().Err(err).Str("run_id", run.RunID).Msg("failed to persist run record")
		return run, fmt.Errorf("persist run record: %w", err)
	}

	if o.events != nil {
		o.events.Emit("orchestrator", &events.OrchestrationRunCompletedData{
			RunID: run.RunID, Status: string(run.Status),
			Submitted: run.Submitted, Accepted: run.Accepted, Rejected: run.Rejected,
		})
	}
	return run, nil
}

func (o *Orchestrator) finalStatus(run *RunRecord) RunStatus {
	switch {
	case run.NumSignals == 0:
		return RunCompleted
	case run.Accepted == 0 && run.Submitted > 0:
		return RunFailed
	case run.Rejected > 0:
		return RunPartial
	default:
		return RunCompleted
	}
}

// processSignal sizes, validates, and (unless skipped) submits one
// signal, returning the mapping to record in the run.
func (o *Orchestrator) processSignal(ctx context.Context, req RunRequest, sig Signal) Mapping {
	mapping := Mapping{Symbol: sig.Symbol}

	if quarantined, err := o.risk.IsQuarantined(sig.Symbol); err != nil {
		reason := "quarantine_check_failed"
		mapping.SkipReason = &reason
		return mapping
	} else if quarantined {
		reason := "symbol_quarantined"
		mapping.SkipReason = &reason
		return mapping
	}

	price, fresh, err := o.risk.PriceIfFresh(sig.Symbol, priceCacheTTL)
	if err != nil || !fresh {
		reason := "missing_price"
		mapping.SkipReason = &reason
		return mapping
	}
	mapping.OrderPrice = price

	qty, side := sizeSignal(sig.TargetWeight, req.Capital, req.MaxPositionSize, price)
	mapping.Side = side
	mapping.OrderQty = qty
	if qty == 0 {
		reason := "qty_rounds_to_zero"
		mapping.SkipReason = &reason
		return mapping
	}

	clientOrderID, err := o.submitWithRetry(ctx, req, sig, qty, side, price)
	if err != nil {
		var gatewayErr *GatewayError
		if asGatewayError(err, &gatewayErr) && gatewayErr.FailClosed() {
			reason := gatewayErr.Code
			mapping.SkipReason = &reason
			return mapping
		}
		mapping.Rejected = true
		return mapping
	}
	mapping.ClientOrderID = &clientOrderID
	mapping.Accepted = true
	return mapping
}

// submitWithRetry submits one order, retrying transient gateway
// failures (429/5xx) with capped exponential backoff. A permanent
// reject (4xx other than 429) is recorded and returned immediately —
// the caller moves on to the next signal, per the spec's "a permanent
// reject is recorded and the loop continues".
func (o *Orchestrator) submitWithRetry(ctx context.Context, req RunRequest, sig Signal, qty int64, side string, price float64) (string, error) {
	var lastErr error
	for attempt := 0; attempt < o.maxRetry; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := o.gateway.SubmitOrder(ctx, SubmitOrderRequest{
			Symbol: sig.Symbol, Side: side, Qty: qty, OrderType: "market",
			StrategyID: req.Strategy, MarkPrice: price,
		})
		if err == nil {
			return resp.ClientOrderID, nil
		}
		lastErr = err

		var gatewayErr *GatewayError
		if ok := asGatewayError(err, &gatewayErr); !ok || !gatewayErr.Transient() {
			return "", err
		}
		o.log.Warn().Err(err).Str("symbol", sig.Symbol).Int("attempt", attempt).Msg("transient gateway error, retrying")
	}
	return "", lastErr
}

func asGatewayError(err error, target **GatewayError) bool {
	ge, ok := err.(*GatewayError)
	if ok {
		*target = ge
	}
	return ok
}

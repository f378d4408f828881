package execution

import (
	"context"
	"time"

	"github.com/aristath/tradeplane/internal/apperr"
	"github.com/aristath/tradeplane/internal/ledger"
)

// TwapPlan splits a parent order into N deterministically-identified
// child slices. SubmitSliced submits every slice at once; StartTime and
// EndTime are carried on the plan but do not space the slices out.
type TwapPlan struct {
	ParentClientOrderID string // optional; derived from symbol, side, total qty and strategy if empty
	Symbol              string
	Side                string
	TotalQty            int64
	NumSlices           int
	StrategyID          string
	StartTime           time.Time
	EndTime             time.Time
}

// SliceResult is one child order's outcome within a TWAP plan.
type SliceResult struct {
	ClientOrderID string
	Qty           int64
	Err           error
}

// SubmitSliced splits plan into NumSlices child orders, each submitted
// through the same gate pipeline as a standalone order, with a
// deterministic child id (parent_id + zero-padded slice_index) so
// re-running the same plan is idempotent slice-by-slice.
func (g *Gateway) SubmitSliced(ctx context.Context, plan TwapPlan, markPrice float64) (string, []SliceResult, error) {
	if plan.NumSlices <= 0 {
		return "", nil, apperr.New(apperr.KindValidation, "invalid_num_slices", "num_slices must be positive")
	}
	if plan.TotalQty <= 0 {
		return "", nil, apperr.New(apperr.KindValidation, "invalid_total_qty", "total_qty must be positive")
	}

	tradeDate := g.tradeDateFn()
	parentID := plan.ParentClientOrderID
	if parentID == "" {
		parentID = ledger.DeterministicClientOrderID(plan.Symbol, plan.Side, plan.TotalQty, nil, plan.StrategyID, tradeDate)
	}

	baseQty := plan.TotalQty / int64(plan.NumSlices)
	remainder := plan.TotalQty % int64(plan.NumSlices)

	results := make([]SliceResult, 0, plan.NumSlices)
	for i := 0; i < plan.NumSlices; i++ {
		qty := baseQty
		if int64(i) < remainder {
			qty++
		}
		if qty == 0 {
			continue
		}

		childID := ledger.SliceClientOrderID(parentID, i)
		req := OrderRequest{
			Symbol:                plan.Symbol,
			Side:                  plan.Side,
			Qty:                   qty,
			OrderType:             "market",
			TimeInForce:           "day",
			StrategyID:            plan.StrategyID + "-slice",
			ClientOrderIDOverride: childID,
		}

		order, err := g.Submit(ctx, req, markPrice)
		result := SliceResult{ClientOrderID: childID, Qty: qty, Err: err}
		if err == nil {
			result.ClientOrderID = order.ClientOrderID
		}
		results = append(results, result)
	}

	return parentID, results, nil
}

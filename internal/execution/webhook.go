package execution

import (
	"github.com/aristath/tradeplane/internal/apperr"
	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/ledger"
)

// HandleWebhook applies a broker-originated status transition. Fill
// events are idempotent on (client_order_id, broker_event_id): AppendFill
// dedupes at the storage layer, and a redelivered fill returns before the
// transition is applied, so it is a no-op rather than an error — broker
// webhook senders retry liberally and must be absorbed. Events without a
// fill are not recorded by broker_event_id; a redelivery of one applies
// its transition again.
func (g *Gateway) HandleWebhook(payload broker.WebhookPayload) error {
	clientOrderID := payload.ClientOrderID

	order, err := g.repo.FindByClientOrderID(clientOrderID)
	if err != nil {
		if err == ledger.ErrNotFound {
			return apperr.New(apperr.KindNotFound, "order_not_found", "webhook references unknown client_order_id")
		}
		return apperr.Wrap(apperr.KindInternal, "ledger_read_failed", "could not look up order for webhook", err)
	}

	if payload.FillQty > 0 {
		inserted, err := g.repo.AppendFill(clientOrderID, payload.BrokerEventID, payload.FillQty, payload.FillPrice)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "fill_append_failed", "could not append fill", err)
		}
		// Shrink the reservation as the fill lands, not just at
		// terminalization, so reserved+filled==original_qty holds on a
		// partially_filled update as well as a terminal one. A redelivered
		// event was already applied in full, so it stops here.
		if !inserted {
			return nil
		}
		if err := g.risk.ReduceReservation(clientOrderID, payload.FillQty); err != nil {
			return apperr.Wrap(apperr.KindInternal, "reservation_reduce_failed", "could not reduce reservation for fill", err)
		}
	}

	newStatus := ledger.OrderStatus(payload.Status)
	avgFillPrice := order.AvgFillPrice
	if payload.FilledQty > 0 {
		avgFillPrice = runningAvgPrice(order.AvgFillPrice, order.FilledQty, payload.FillQty, payload.FillPrice)
	}

	err = g.repo.ApplyTransition(ledger.Transition{
		ClientOrderID: clientOrderID,
		ExpectedSeq:   order.StatusSequence,
		NewStatus:     newStatus,
		NewFilledQty:  payload.FilledQty,
		NewAvgFillPx:  avgFillPrice,
		Source:        ledger.SourceWebhook,
	})
	if err != nil {
		if err == ledger.ErrSequenceConflict {
			// Webhook always outranks reconciliation/internal, so a
			// conflict here means a concurrent webhook delivery already
			// advanced the row further — absorb, not an error.
			return nil
		}
		return apperr.Wrap(apperr.KindConflict, "transition_failed", "could not apply webhook transition", err)
	}

	if newStatus.Terminal() {
		_ = g.risk.ReleaseReservation(clientOrderID)
	}

	g.events.Emit("execution", &events.OrderStatusChangedData{
		ClientOrderID: clientOrderID,
		FromStatus:    string(order.Status),
		ToStatus:      string(newStatus),
		StatusSource:  string(ledger.SourceWebhook),
	})
	return nil
}

// runningAvgPrice folds a new fill into the weighted-mean average fill
// price, matching the spec's "running weighted mean" requirement.
func runningAvgPrice(prevAvg float64, prevQty, newFillQty int64, newFillPrice float64) float64 {
	totalQty := prevQty + newFillQty
	if totalQty == 0 {
		return prevAvg
	}
	return (prevAvg*float64(prevQty) + newFillPrice*float64(newFillQty)) / float64(totalQty)
}

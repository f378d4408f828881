package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/signal"
)

// BarSource adapts a broker.Client's historical-bar endpoint to
// signal.PriceSource, the only historical-data capability the signal
// engine's feature computation needs. Context-bound broker calls are
// given a fixed budget since PriceSource.Bars carries no context of its
// own.
type BarSource struct {
	broker  broker.Client
	timeout time.Duration
}

// NewBarSource wraps a broker client as a signal.PriceSource.
func NewBarSource(brokerClient broker.Client) *BarSource {
	return &BarSource{broker: brokerClient, timeout: 10 * time.Second}
}

// Bars implements signal.PriceSource.
func (b *BarSource) Bars(symbol string, lookback int) ([]signal.Bar, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	raw, err := b.broker.GetBars(ctx, symbol, lookback)
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}

	bars := make([]signal.Bar, len(raw))
	for i, r := range raw {
		bars[i] = signal.Bar{
			Timestamp: r.Timestamp,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return bars, nil
}

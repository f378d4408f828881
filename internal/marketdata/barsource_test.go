package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/broker"
)

type fakeBarBroker struct {
	bars []broker.Bar
	err  error
}

func (f *fakeBarBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderAck, error) {
	return nil, nil
}
func (f *fakeBarBroker) GetOpenOrders(ctx context.Context) ([]broker.BrokerOrder, error) {
	return nil, nil
}
func (f *fakeBarBroker) GetOrdersSince(ctx context.Context, since time.Time) ([]broker.BrokerOrder, error) {
	return nil, nil
}
func (f *fakeBarBroker) GetPositions(ctx context.Context) ([]broker.Position, error) { return nil, nil }
func (f *fakeBarBroker) GetQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return nil, nil
}
func (f *fakeBarBroker) GetBars(ctx context.Context, symbol string, lookback int) ([]broker.Bar, error) {
	return f.bars, f.err
}

func TestBarSource_AdaptsBrokerBarsToSignalBars(t *testing.T) {
	now := time.Now()
	src := NewBarSource(&fakeBarBroker{bars: []broker.Bar{
		{Timestamp: now, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1000},
	}})

	bars, err := src.Bars("AAPL", 90)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	require.Equal(t, 1.5, bars[0].Close)
}

func TestBarSource_PropagatesBrokerError(t *testing.T) {
	src := NewBarSource(&fakeBarBroker{err: errors.New("broker unavailable")})
	_, err := src.Bars("AAPL", 90)
	require.Error(t, err)
}

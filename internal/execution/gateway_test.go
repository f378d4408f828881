package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/apperr"
	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/ledger"
	"github.com/aristath/tradeplane/internal/risk"
	"github.com/aristath/tradeplane/internal/storedb"
)

type fakeBroker struct {
	ack *broker.OrderAck
	err error
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.ack != nil {
		return f.ack, nil
	}
	return &broker.OrderAck{BrokerOrderID: "brk-1", Status: "submitted"}, nil
}
func (f *fakeBroker) GetOpenOrders(ctx context.Context) ([]broker.BrokerOrder, error) { return nil, nil }
func (f *fakeBroker) GetOrdersSince(ctx context.Context, since time.Time) ([]broker.BrokerOrder, error) {
	return nil, nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) ([]broker.Position, error) { return nil, nil }
func (f *fakeBroker) GetQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return nil, nil
}
func (f *fakeBroker) GetBars(ctx context.Context, symbol string, lookback int) ([]broker.Bar, error) {
	return nil, nil
}

func newTestGateway(t *testing.T, cfg Config, brokerClient broker.Client) (*Gateway, *ledger.Repository, *risk.Store) {
	t.Helper()
	ledgerDB, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileLedger, Name: "gw-ledger"})
	require.NoError(t, err)
	require.NoError(t, ledgerDB.Migrate(ledger.Schema))
	t.Cleanup(func() { _ = ledgerDB.Close() })
	repo := ledger.NewRepository(ledgerDB.Conn())

	riskDB, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileRiskStore, Name: "gw-risk"})
	require.NoError(t, err)
	require.NoError(t, riskDB.Migrate(risk.Schema))
	t.Cleanup(func() { _ = riskDB.Close() })
	riskStore := risk.NewStore(riskDB.Conn())
	require.NoError(t, riskStore.SetReconciliationGate(risk.GateOpen, time.Now()))

	mgr := events.NewManager(events.NewBus(), zerolog.Nop())

	gw := New(repo, riskStore, brokerClient, mgr, cfg, zerolog.Nop())
	gw.MarkReconciled()
	return gw, repo, riskStore
}

func defaultCfg() Config {
	return Config{
		DryRun:               true,
		DefaultPositionLimit: 10000,
		FatFinger:            FatFingerThresholds{RejectNotional: 1_000_000, RejectQty: 100000},
		TradeDate:            func() string { return "2024-01-15" },
	}
}

func TestSubmit_DryRunRecordsDryRunStatus(t *testing.T) {
	gw, _, _ := newTestGateway(t, defaultCfg(), &fakeBroker{})

	order, err := gw.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 100, OrderType: "market", StrategyID: "strat-1",
	}, 150.0)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDryRun, order.Status)
}

func TestSubmit_SameRequestTwiceReturnsSameOrder(t *testing.T) {
	gw, _, _ := newTestGateway(t, defaultCfg(), &fakeBroker{})

	req := OrderRequest{Symbol: "AAPL", Side: "buy", Qty: 100, OrderType: "market", StrategyID: "strat-1"}
	first, err := gw.Submit(context.Background(), req, 150.0)
	require.NoError(t, err)

	second, err := gw.Submit(context.Background(), req, 150.0)
	require.NoError(t, err)
	require.Equal(t, first.ClientOrderID, second.ClientOrderID)
}

func TestSubmit_KillSwitchEngagedFailsClosed(t *testing.T) {
	gw, _, riskStore := newTestGateway(t, defaultCfg(), &fakeBroker{})
	require.NoError(t, riskStore.SetKillSwitch(true, "test halt"))

	_, err := gw.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 100, OrderType: "market", StrategyID: "strat-1",
	}, 150.0)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindFailClosed, appErr.Kind)
}

func TestSubmit_CircuitBreakerTrippedFailsClosed(t *testing.T) {
	gw, _, riskStore := newTestGateway(t, defaultCfg(), &fakeBroker{})
	require.NoError(t, riskStore.TripCircuitBreaker("daily loss limit"))

	_, err := gw.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 100, OrderType: "market", StrategyID: "strat-1",
	}, 150.0)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindFailClosed, appErr.Kind)
}

func TestSubmit_QuarantinedSymbolRejectsIncreasingOrder(t *testing.T) {
	gw, _, riskStore := newTestGateway(t, defaultCfg(), &fakeBroker{})
	require.NoError(t, riskStore.Quarantine("AAPL", "orphan unresolved"))

	_, err := gw.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 100, OrderType: "market", StrategyID: "strat-1",
	}, 150.0)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindQuarantine, appErr.Kind)
}

func TestSubmit_FatFingerNotionalRejected(t *testing.T) {
	cfg := defaultCfg()
	cfg.FatFinger = FatFingerThresholds{RejectNotional: 1000}
	gw, _, _ := newTestGateway(t, cfg, &fakeBroker{})

	_, err := gw.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 100, OrderType: "market", StrategyID: "strat-1",
	}, 150.0) // notional 15000 > 1000
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindRiskViolation, appErr.Kind)
}

func TestSubmit_ValidationZeroQty(t *testing.T) {
	gw, _, _ := newTestGateway(t, defaultCfg(), &fakeBroker{})

	_, err := gw.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 0, OrderType: "market", StrategyID: "strat-1",
	}, 150.0)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestSubmit_LiveModeSubmitsToBrokerAndMarksSubmitted(t *testing.T) {
	cfg := defaultCfg()
	cfg.DryRun = false
	gw, _, _ := newTestGateway(t, cfg, &fakeBroker{ack: &broker.OrderAck{BrokerOrderID: "brk-99", Status: "submitted"}})

	order, err := gw.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 100, OrderType: "market", StrategyID: "strat-1",
	}, 150.0)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSubmitted, order.Status)
	require.NotNil(t, order.BrokerOrderID)
	require.Equal(t, "brk-99", *order.BrokerOrderID)
}

func TestSubmit_PermanentBrokerErrorRejectsOrder(t *testing.T) {
	cfg := defaultCfg()
	cfg.DryRun = false
	gw, _, _ := newTestGateway(t, cfg, &fakeBroker{err: &broker.PermanentError{Cause: errors.New("rejected: insufficient buying power")}})

	_, err := gw.Submit(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Qty: 100, OrderType: "market", StrategyID: "strat-1",
	}, 150.0)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindPermanentBroker, appErr.Kind)
}

func TestSubmitSliced_SplitsIntoDeterministicChildIDs(t *testing.T) {
	gw, _, _ := newTestGateway(t, defaultCfg(), &fakeBroker{})

	parentID, results, err := gw.SubmitSliced(context.Background(), TwapPlan{
		Symbol: "AAPL", Side: "buy", TotalQty: 100, NumSlices: 4, StrategyID: "twap-1",
	}, 150.0)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, res := range results {
		require.NoError(t, res.Err)
		require.Equal(t, ledger.SliceClientOrderID(parentID, i), res.ClientOrderID)
	}
}

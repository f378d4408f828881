package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/broker"
	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/ledger"
	"github.com/aristath/tradeplane/internal/risk"
	"github.com/aristath/tradeplane/internal/storedb"
)

type fakeReconBroker struct {
	open      []broker.BrokerOrder
	since     []broker.BrokerOrder
	positions []broker.Position
}

func (f *fakeReconBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderAck, error) {
	return nil, nil
}
func (f *fakeReconBroker) GetOpenOrders(ctx context.Context) ([]broker.BrokerOrder, error) {
	return f.open, nil
}
func (f *fakeReconBroker) GetOrdersSince(ctx context.Context, since time.Time) ([]broker.BrokerOrder, error) {
	return f.since, nil
}
func (f *fakeReconBroker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return f.positions, nil
}
func (f *fakeReconBroker) GetQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return nil, nil
}
func (f *fakeReconBroker) GetBars(ctx context.Context, symbol string, lookback int) ([]broker.Bar, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, brokerClient broker.Client) (*Engine, *ledger.Repository, *risk.Store) {
	t.Helper()
	ledgerDB, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileLedger, Name: "recon-ledger"})
	require.NoError(t, err)
	require.NoError(t, ledgerDB.Migrate(ledger.Schema))
	t.Cleanup(func() { _ = ledgerDB.Close() })
	repo := ledger.NewRepository(ledgerDB.Conn())

	riskDB, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileRiskStore, Name: "recon-risk"})
	require.NoError(t, err)
	require.NoError(t, riskDB.Migrate(risk.Schema))
	t.Cleanup(func() { _ = riskDB.Close() })
	riskStore := risk.NewStore(riskDB.Conn())

	mgr := events.NewManager(events.NewBus(), zerolog.Nop())
	engine := NewEngine(repo, riskStore, brokerClient, mgr, Config{}, zerolog.Nop())
	return engine, repo, riskStore
}

func TestRun_OpensGateOnFirstSuccess(t *testing.T) {
	engine, _, riskStore := newTestEngine(t, &fakeReconBroker{})

	require.NoError(t, engine.Run(context.Background()))

	state, _, err := riskStore.ReconciliationGateState()
	require.NoError(t, err)
	require.Equal(t, risk.GateOpen, state)
}

func TestRun_OrphanWithDeterministicIDIsAbsorbed(t *testing.T) {
	deterministicID := ledger.DeterministicClientOrderID("AAPL", "buy", 100, nil, "strat-1", "2024-01-15")
	engine, repo, riskStore := newTestEngine(t, &fakeReconBroker{
		open: []broker.BrokerOrder{{
			BrokerOrderID: "brk-1", ClientOrderID: deterministicID, Symbol: "AAPL",
			Side: broker.SideBuy, Qty: 100, Status: "submitted", UpdatedAt: time.Now(),
		}},
	})

	require.NoError(t, engine.Run(context.Background()))

	order, err := repo.FindByClientOrderID(deterministicID)
	require.NoError(t, err)
	require.Equal(t, "AAPL", order.Symbol)

	quarantined, err := riskStore.IsQuarantined("AAPL")
	require.NoError(t, err)
	require.False(t, quarantined)
}

func TestRun_OrphanWithNonDeterministicIDQuarantinesSymbol(t *testing.T) {
	engine, _, riskStore := newTestEngine(t, &fakeReconBroker{
		open: []broker.BrokerOrder{{
			BrokerOrderID: "brk-2", ClientOrderID: "not-a-real-hash", Symbol: "MSFT",
			Side: broker.SideSell, Qty: 50, Status: "submitted", UpdatedAt: time.Now(),
		}},
	})

	require.NoError(t, engine.Run(context.Background()))

	quarantined, err := riskStore.IsQuarantined("MSFT")
	require.NoError(t, err)
	require.True(t, quarantined)
}

func TestRun_MissingLocalOrderBeyondGraceWindowAdvancesToError(t *testing.T) {
	engine, repo, _ := newTestEngine(t, &fakeReconBroker{})
	engine.graceWindow = 0 // everything immediately exceeds the grace window

	require.NoError(t, repo.Insert(&ledger.Order{
		ClientOrderID: "stale-order", Symbol: "AAPL", Side: "buy", Qty: 10,
		OrderType: "market", Status: ledger.StatusSubmitted, TradeDate: "2024-01-15", StatusSource: ledger.SourceInternal,
	}))

	require.NoError(t, engine.Run(context.Background()))

	order, err := repo.FindByClientOrderID("stale-order")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusError, order.Status)
}

func TestRun_ReconcilesPositionSnapshots(t *testing.T) {
	engine, repo, _ := newTestEngine(t, &fakeReconBroker{
		positions: []broker.Position{{Symbol: "AAPL", Qty: 200, AvgEntryPrice: 148.5}},
	})

	require.NoError(t, engine.Run(context.Background()))

	snapshot, err := repo.FindPositionSnapshot("AAPL")
	require.NoError(t, err)
	require.Equal(t, int64(200), snapshot.Qty)
	require.Equal(t, 148.5, snapshot.AvgEntryPrice)
}

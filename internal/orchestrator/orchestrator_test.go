package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/risk"
	"github.com/aristath/tradeplane/internal/storedb"
)

type fakeSignalGenerator struct {
	signals []Signal
	err     error
}

func (f *fakeSignalGenerator) Generate(ctx context.Context, strategy, asOfDate string, symbols []string) ([]Signal, error) {
	return f.signals, f.err
}

type fakeOrderSubmitter struct {
	submitted     []SubmitOrderRequest
	failSymbols   map[string]error
	transientOnce map[string]bool
}

func newFakeOrderSubmitter() *fakeOrderSubmitter {
	return &fakeOrderSubmitter{failSymbols: make(map[string]error), transientOnce: make(map[string]bool)}
}

func (f *fakeOrderSubmitter) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*SubmitOrderResponse, error) {
	f.submitted = append(f.submitted, req)

	if f.transientOnce[req.Symbol] {
		f.transientOnce[req.Symbol] = false
		return nil, &GatewayError{StatusCode: 503, Body: "temporarily unavailable"}
	}
	if err, ok := f.failSymbols[req.Symbol]; ok {
		return nil, err
	}
	return &SubmitOrderResponse{ClientOrderID: "cid-" + req.Symbol, Status: "submitted"}, nil
}

func openTestOrchestrator(t *testing.T, signals SignalGenerator, gateway OrderSubmitter) (*Orchestrator, *risk.Store) {
	t.Helper()
	riskDB, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileRiskStore, Name: "orch-risk"})
	require.NoError(t, err)
	require.NoError(t, riskDB.Migrate(risk.Schema))
	t.Cleanup(func() { _ = riskDB.Close() })
	riskStore := risk.NewStore(riskDB.Conn())

	runDB, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileStandard, Name: "orch-runs"})
	require.NoError(t, err)
	require.NoError(t, runDB.Migrate(Schema))
	t.Cleanup(func() { _ = runDB.Close() })
	repo := NewRepository(runDB.Conn())

	mgr := events.NewManager(events.NewBus(), zerolog.Nop())
	orch := New(signals, gateway, riskStore, repo, mgr, Config{MaxRetry: 2}, zerolog.Nop())
	return orch, riskStore
}

func TestOrchestrator_SkipsQuarantinedSymbol(t *testing.T) {
	gateway := newFakeOrderSubmitter()
	orch, riskStore := openTestOrchestrator(t, &fakeSignalGenerator{
		signals: []Signal{{Symbol: "AAPL", TargetWeight: 0.5, Rank: 1}},
	}, gateway)
	require.NoError(t, riskStore.Quarantine("AAPL", "unreconciled orphan"))
	require.NoError(t, riskStore.CachePrice("AAPL", 100, 99.9, 100.1))

	run, err := orch.Run(context.Background(), RunRequest{Symbols: []string{"AAPL"}, Strategy: "momentum", Capital: 10000, MaxPositionSize: 5000})
	require.NoError(t, err)
	require.Equal(t, 1, run.Skipped)
	require.Empty(t, gateway.submitted)
}

func TestOrchestrator_SkipsSymbolWithoutFreshPrice(t *testing.T) {
	gateway := newFakeOrderSubmitter()
	orch, _ := openTestOrchestrator(t, &fakeSignalGenerator{
		signals: []Signal{{Symbol: "AAPL", TargetWeight: 0.5, Rank: 1}},
	}, gateway)

	run, err := orch.Run(context.Background(), RunRequest{Symbols: []string{"AAPL"}, Strategy: "momentum", Capital: 10000, MaxPositionSize: 5000})
	require.NoError(t, err)
	require.Equal(t, 1, run.Skipped)
	require.Equal(t, "missing_price", *run.Mappings[0].SkipReason)
}

func TestOrchestrator_SubmitsSizedOrderAndCountsAccepted(t *testing.T) {
	gateway := newFakeOrderSubmitter()
	orch, riskStore := openTestOrchestrator(t, &fakeSignalGenerator{
		signals: []Signal{{Symbol: "AAPL", TargetWeight: 1.0, Rank: 1}},
	}, gateway)
	require.NoError(t, riskStore.CachePrice("AAPL", 100, 99.9, 100.1))

	run, err := orch.Run(context.Background(), RunRequest{Symbols: []string{"AAPL"}, Strategy: "momentum", Capital: 10000, MaxPositionSize: 5000})
	require.NoError(t, err)
	require.Equal(t, 1, run.Accepted)
	require.Equal(t, RunCompleted, run.Status)
	require.Len(t, gateway.submitted, 1)
	require.Equal(t, int64(50), gateway.submitted[0].Qty) // min(1.0*10000, 5000)/100
}

func TestOrchestrator_RetriesTransientGatewayErrorThenSucceeds(t *testing.T) {
	gateway := newFakeOrderSubmitter()
	gateway.transientOnce["AAPL"] = true
	orch, riskStore := openTestOrchestrator(t, &fakeSignalGenerator{
		signals: []Signal{{Symbol: "AAPL", TargetWeight: 1.0, Rank: 1}},
	}, gateway)
	require.NoError(t, riskStore.CachePrice("AAPL", 100, 99.9, 100.1))

	run, err := orch.Run(context.Background(), RunRequest{Symbols: []string{"AAPL"}, Strategy: "momentum", Capital: 10000, MaxPositionSize: 5000})
	require.NoError(t, err)
	require.Equal(t, 1, run.Accepted)
	require.Len(t, gateway.submitted, 2, "expected one failed attempt then one retry")
}

func TestOrchestrator_PermanentRejectStopsRetryingAndContinuesLoop(t *testing.T) {
	gateway := newFakeOrderSubmitter()
	gateway.failSymbols["AAPL"] = &GatewayError{StatusCode: 422, Body: "risk_violation"}
	orch, riskStore := openTestOrchestrator(t, &fakeSignalGenerator{
		signals: []Signal{
			{Symbol: "AAPL", TargetWeight: 1.0, Rank: 1},
			{Symbol: "MSFT", TargetWeight: 0.5, Rank: 2},
		},
	}, gateway)
	require.NoError(t, riskStore.CachePrice("AAPL", 100, 99.9, 100.1))
	require.NoError(t, riskStore.CachePrice("MSFT", 200, 199.9, 200.1))

	run, err := orch.Run(context.Background(), RunRequest{Symbols: []string{"AAPL", "MSFT"}, Strategy: "momentum", Capital: 10000, MaxPositionSize: 5000})
	require.NoError(t, err)
	require.Equal(t, 1, run.Rejected)
	require.Equal(t, 1, run.Accepted)
	require.Equal(t, RunPartial, run.Status)
	require.Len(t, gateway.submitted, 2, "permanent reject must not retry")
}

func TestOrchestrator_FailClosedGatewayErrorIsSkippedNotRejectedOrRetried(t *testing.T) {
	gateway := newFakeOrderSubmitter()
	gateway.failSymbols["AAPL"] = &GatewayError{StatusCode: 503, Body: "circuit breaker tripped", Code: "circuit_breaker_tripped"}
	orch, riskStore := openTestOrchestrator(t, &fakeSignalGenerator{
		signals: []Signal{{Symbol: "AAPL", TargetWeight: 1.0, Rank: 1}},
	}, gateway)
	require.NoError(t, riskStore.CachePrice("AAPL", 100, 99.9, 100.1))

	run, err := orch.Run(context.Background(), RunRequest{Symbols: []string{"AAPL"}, Strategy: "momentum", Capital: 10000, MaxPositionSize: 5000})
	require.NoError(t, err)
	require.Equal(t, 1, run.Skipped)
	require.Equal(t, 0, run.Rejected)
	require.Equal(t, "circuit_breaker_tripped", *run.Mappings[0].SkipReason)
	require.Len(t, gateway.submitted, 1, "a fail-closed gate must not be retried")
}

func TestOrchestrator_PersistsRunRecordRetrievableByID(t *testing.T) {
	gateway := newFakeOrderSubmitter()
	orch, riskStore := openTestOrchestrator(t, &fakeSignalGenerator{
		signals: []Signal{{Symbol: "AAPL", TargetWeight: 1.0, Rank: 1}},
	}, gateway)
	require.NoError(t, riskStore.CachePrice("AAPL", 100, 99.9, 100.1))

	run, err := orch.Run(context.Background(), RunRequest{Symbols: []string{"AAPL"}, Strategy: "momentum", Capital: 10000, MaxPositionSize: 5000})
	require.NoError(t, err)

	persisted, err := orch.repo.FindByRunID(run.RunID)
	require.NoError(t, err)
	require.Equal(t, run.Accepted, persisted.Accepted)
}

func TestOrchestrator_SignalFetchFailureRecordsFailedRun(t *testing.T) {
	gateway := newFakeOrderSubmitter()
	orch, _ := openTestOrchestrator(t, &fakeSignalGenerator{err: fmt.Errorf("signal service unreachable")}, gateway)

	run, err := orch.Run(context.Background(), RunRequest{Symbols: []string{"AAPL"}, Strategy: "momentum", Capital: 10000, MaxPositionSize: 5000})
	require.Error(t, err)
	require.Equal(t, RunFailed, run.Status)
}

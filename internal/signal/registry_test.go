package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/storedb"
)

// fakeLoader serves in-memory LinearModels keyed by path, so tests
// never touch the filesystem.
type fakeLoader struct {
	byPath map[string]*LinearModel
	fail   map[string]bool
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{byPath: make(map[string]*LinearModel), fail: make(map[string]bool)}
}

func (f *fakeLoader) Load(path string) (*LinearModel, error) {
	if f.fail[path] {
		return nil, fmt.Errorf("simulated load failure for %s", path)
	}
	m, ok := f.byPath[path]
	if !ok {
		return nil, fmt.Errorf("no fake model registered for %s", path)
	}
	return m, nil
}

func validModel(weight float64) *LinearModel {
	m := &LinearModel{
		FeatureWeights: map[string]float64{"sma_20": weight},
		Intercept:      0,
		ProbeFeatures:  map[string]float64{"sma_20": 1},
	}
	m.ProbeExpected = m.Predict(m.ProbeFeatures)
	return m
}

func openTestRegistry(t *testing.T) (*Registry, *fakeLoader) {
	t.Helper()
	db, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileStandard, Name: "signal-test"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(Schema))
	t.Cleanup(func() { _ = db.Close() })

	loader := newFakeLoader()
	mgr := events.NewManager(events.NewBus(), zerolog.Nop())
	return NewRegistry(db.Conn(), loader, mgr, zerolog.Nop()), loader
}

func TestRegistry_ActivateThenReloadLoadsModel(t *testing.T) {
	reg, loader := openTestRegistry(t)
	loader.byPath["model-v1.json"] = validModel(2.0)

	_, err := reg.Register(ModelMetadata{StrategyName: "momentum", Version: "v1", ModelPath: "model-v1.json"})
	require.NoError(t, err)

	require.NoError(t, reg.Activate("momentum", "v1"))

	handle, err := reg.CurrentModel("momentum")
	require.NoError(t, err)
	require.Equal(t, "v1", handle.Metadata.Version)
}

func TestRegistry_CurrentModelFailsClosedWhenNeverLoaded(t *testing.T) {
	reg, _ := openTestRegistry(t)

	_, err := reg.CurrentModel("nonexistent")
	require.ErrorIs(t, err, ErrNoModelLoaded)
	require.False(t, reg.AnyModelLoaded())
}

func TestRegistry_ReloadIfChangedIsNoOpWhenVersionUnchanged(t *testing.T) {
	reg, loader := openTestRegistry(t)
	loader.byPath["model-v1.json"] = validModel(1.0)
	_, err := reg.Register(ModelMetadata{StrategyName: "momentum", Version: "v1", ModelPath: "model-v1.json"})
	require.NoError(t, err)
	require.NoError(t, reg.Activate("momentum", "v1"))

	changed, err := reg.ReloadIfChanged("momentum")
	require.NoError(t, err)
	require.False(t, changed)
}

func TestRegistry_FailedLoadLeavesRunningModelInPlace(t *testing.T) {
	reg, loader := openTestRegistry(t)
	loader.byPath["model-v1.json"] = validModel(1.0)
	_, err := reg.Register(ModelMetadata{StrategyName: "momentum", Version: "v1", ModelPath: "model-v1.json"})
	require.NoError(t, err)
	require.NoError(t, reg.Activate("momentum", "v1"))

	_, err = reg.Register(ModelMetadata{StrategyName: "momentum", Version: "v2", ModelPath: "model-v2.json"})
	require.NoError(t, err)
	loader.fail["model-v2.json"] = true
	require.NoError(t, reg.Activate("momentum", "v2")) // activation itself never errors on a reload failure

	handle, err := reg.CurrentModel("momentum")
	require.NoError(t, err)
	require.Equal(t, "v1", handle.Metadata.Version, "failed reload must not disturb the running model")
}

func TestRegistry_AtMostOneActiveRowPerStrategy(t *testing.T) {
	reg, loader := openTestRegistry(t)
	loader.byPath["model-v1.json"] = validModel(1.0)
	loader.byPath["model-v2.json"] = validModel(2.0)
	_, err := reg.Register(ModelMetadata{StrategyName: "momentum", Version: "v1", ModelPath: "model-v1.json"})
	require.NoError(t, err)
	_, err = reg.Register(ModelMetadata{StrategyName: "momentum", Version: "v2", ModelPath: "model-v2.json"})
	require.NoError(t, err)

	require.NoError(t, reg.Activate("momentum", "v1"))
	require.NoError(t, reg.Activate("momentum", "v2"))

	active, err := reg.activeRow("momentum")
	require.NoError(t, err)
	require.Equal(t, "v2", active.Version)
}

func TestLinearModel_ValidateCatchesTamperedWeights(t *testing.T) {
	m := validModel(1.0)
	m.FeatureWeights["sma_20"] = 999 // now disagrees with the recorded probe expectation
	require.Error(t, m.validate())
}

func TestRegistry_RunReloadsAllActiveStrategies(t *testing.T) {
	reg, loader := openTestRegistry(t)
	loader.byPath["a.json"] = validModel(1.0)
	loader.byPath["b.json"] = validModel(1.0)
	_, err := reg.Register(ModelMetadata{StrategyName: "alpha", Version: "v1", ModelPath: "a.json"})
	require.NoError(t, err)
	_, err = reg.Register(ModelMetadata{StrategyName: "beta", Version: "v1", ModelPath: "b.json"})
	require.NoError(t, err)
	require.NoError(t, reg.Activate("alpha", "v1"))
	require.NoError(t, reg.Activate("beta", "v1"))

	require.NoError(t, reg.Run(context.Background()))
	_, err = reg.CurrentModel("alpha")
	require.NoError(t, err)
	_, err = reg.CurrentModel("beta")
	require.NoError(t, err)
}

func TestModelMetadata_PerformanceMetricsRoundTrip(t *testing.T) {
	reg, loader := openTestRegistry(t)
	loader.byPath["m.json"] = validModel(1.0)

	id, err := reg.Register(ModelMetadata{
		StrategyName:       "momentum",
		Version:            "v1",
		ModelPath:          "m.json",
		PerformanceMetrics: map[string]interface{}{"sharpe": 1.4},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Activate("momentum", "v1"))

	active, err := reg.activeRow("momentum")
	require.NoError(t, err)
	require.EqualValues(t, id, active.ID)
	raw, _ := json.Marshal(active.PerformanceMetrics)
	require.JSONEq(t, `{"sharpe":1.4}`, string(raw))
}

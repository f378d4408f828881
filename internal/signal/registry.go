package signal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradeplane/internal/events"
	"github.com/aristath/tradeplane/internal/storedb"
)

// ErrNoModelLoaded is returned by CurrentModel/Predict paths when a
// strategy has never had a model successfully loaded into memory —
// callers must fail closed, per the registry's failure semantics.
var ErrNoModelLoaded = errors.New("signal: no model loaded for strategy")

// ModelHandle pairs a loaded, validated model with the catalog row that
// describes it. Handles are immutable once published: a reload builds
// a brand new handle and swaps the pointer rather than mutating one in
// place, so a goroutine holding a handle never observes a torn update.
type ModelHandle struct {
	Metadata ModelMetadata
	Model    *LinearModel
}

// Registry maintains the versioned model catalog in SQLite and the
// in-memory, atomically-swapped handle currently serving predictions
// for each strategy. Grounded on internal/ledger/repository.go's
// column-list SQL style; the atomic-pointer swap is the mechanism
// spec.md names explicitly ("the language's native atomic-pointer
// primitive").
type Registry struct {
	db     *sql.DB
	loader ArtifactLoader
	events *events.Manager
	log    zerolog.Logger

	mu      sync.Mutex // guards creation of per-strategy pointers in handles
	handles map[string]*atomic.Pointer[ModelHandle]
}

// NewRegistry wraps an open, migrated model-registry database.
func NewRegistry(db *sql.DB, loader ArtifactLoader, mgr *events.Manager, log zerolog.Logger) *Registry {
	return &Registry{
		db:      db,
		loader:  loader,
		events:  mgr,
		log:     log.With().Str("component", "model-registry").Logger(),
		handles: make(map[string]*atomic.Pointer[ModelHandle]),
	}
}

func (r *Registry) pointerFor(strategy string) *atomic.Pointer[ModelHandle] {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.handles[strategy]
	if !ok {
		p = &atomic.Pointer[ModelHandle]{}
		r.handles[strategy] = p
	}
	return p
}

// CurrentModel returns the handle currently serving strategy, or
// ErrNoModelLoaded if nothing has ever been loaded for it. A single
// atomic load — never a null, never a half-written struct.
func (r *Registry) CurrentModel(strategy string) (*ModelHandle, error) {
	h := r.pointerFor(strategy).Load()
	if h == nil {
		return nil, ErrNoModelLoaded
	}
	return h, nil
}

// AnyModelLoaded reports whether at least one strategy has a live
// handle, used by the service's /health endpoint to report degraded
// status before the first successful load.
func (r *Registry) AnyModelLoaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.handles {
		if p.Load() != nil {
			return true
		}
	}
	return false
}

// activeRow reads the catalog's current active row for strategy, or
// sql.ErrNoRows if none is active.
func (r *Registry) activeRow(strategy string) (*ModelMetadata, error) {
	row := r.db.QueryRow(`
		SELECT id, strategy_name, version, model_path, status, performance_metrics, config,
		       created_at, activated_at, deactivated_at
		FROM model_registry WHERE strategy_name = ? AND status = ?`, strategy, string(StatusActive))
	return scanMetadata(row)
}

// ReloadIfChanged compares the catalog's active version for strategy
// against the currently loaded handle's version; if they differ (or
// nothing is loaded yet), it loads and validates the artifact and
// swaps it in. Returns false, nil if nothing needed to change. A
// failed load is returned as an error but never disturbs the running
// model — the caller (the reload scheduler job) logs and moves on,
// matching "neither disturbs the running model nor retries implicitly".
func (r *Registry) ReloadIfChanged(strategy string) (bool, error) {
	active, err := r.activeRow(strategy)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read active model row: %w", err)
	}

	ptr := r.pointerFor(strategy)
	if current := ptr.Load(); current != nil && current.Metadata.Version == active.Version {
		return false, nil
	}

	model, err := r.loader.Load(active.ModelPath)
	if err != nil {
		// The catalog row stays active: flipping it to failed here would
		// stop the next tick from ever retrying, since ReloadIfChanged's
		// only signal to re-attempt is "catalog active version differs
		// from the loaded handle's version".
		return false, fmt.Errorf("load artifact for %s version %s: %w", strategy, active.Version, err)
	}

	handle := &ModelHandle{Metadata: *active, Model: model}
	ptr.Store(handle)

	r.log.Info().Str("strategy", strategy).Str("version", active.Version).Msg("model reloaded")
	if r.events != nil {
		r.events.Emit("signal", &events.ModelActivatedData{StrategyName: strategy, Version: active.Version})
	}
	return true, nil
}

// Activate transactionally deactivates any currently-active row for
// strategy and activates the named version, enforcing the at-most-one-
// active invariant, then attempts an immediate in-memory reload so the
// operator's activation takes effect without waiting for the next
// background tick. A reload failure here is logged but not returned:
// the row is still marked active in the catalog and the next poll
// (or another manual reload) will retry.
func (r *Registry) Activate(strategy, version string) error {
	err := storedb.WithTransaction(r.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		if _, err := tx.Exec(`
			UPDATE model_registry SET status = ?, deactivated_at = ?
			WHERE strategy_name = ? AND status = ?`,
			string(StatusInactive), now, strategy, string(StatusActive)); err != nil {
			return fmt.Errorf("deactivate current model: %w", err)
		}

		res, err := tx.Exec(`
			UPDATE model_registry SET status = ?, activated_at = ?
			WHERE strategy_name = ? AND version = ?`,
			string(StatusActive), now, strategy, version)
		if err != nil {
			return fmt.Errorf("activate model: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("no catalog row for strategy %q version %q", strategy, version)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, reloadErr := r.ReloadIfChanged(strategy); reloadErr != nil {
		r.log.Warn().Err(reloadErr).Str("strategy", strategy).Str("version", version).
			Msg("activation succeeded but immediate reload failed, next poll will retry")
	}
	return nil
}

// Register inserts a new catalog row in the testing status, the entry
// point for a freshly trained artifact before an operator activates it.
func (r *Registry) Register(m ModelMetadata) (int64, error) {
	metrics, err := json.Marshal(emptyIfNil(m.PerformanceMetrics))
	if err != nil {
		return 0, err
	}
	cfg, err := json.Marshal(emptyIfNil(m.Config))
	if err != nil {
		return 0, err
	}

	res, err := r.db.Exec(`
		INSERT INTO model_registry (strategy_name, version, model_path, status, performance_metrics, config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.StrategyName, m.Version, m.ModelPath, string(StatusTesting), string(metrics), string(cfg), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("register model: %w", err)
	}
	return res.LastInsertId()
}

// Strategies lists every distinct strategy name with an active row,
// the set the background reload job walks each tick.
func (r *Registry) Strategies() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT strategy_name FROM model_registry WHERE status = ?`, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Run implements scheduler.Job: one pass of ReloadIfChanged across
// every strategy with an active catalog row. A single strategy's
// failure is logged and never aborts the remaining strategies.
func (r *Registry) Run(ctx context.Context) error {
	strategies, err := r.Strategies()
	if err != nil {
		return fmt.Errorf("list strategies: %w", err)
	}
	for _, strategy := range strategies {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.ReloadIfChanged(strategy); err != nil {
			r.log.Error().Err(err).Str("strategy", strategy).Msg("model reload failed")
			if r.events != nil {
				r.events.EmitError("signal", err, map[string]interface{}{"strategy": strategy})
			}
		}
	}
	return nil
}

// Name implements scheduler.Job.
func (r *Registry) Name() string { return "model-reload" }

type scannableRow interface {
	Scan(dest ...interface{}) error
}

func scanMetadata(row scannableRow) (*ModelMetadata, error) {
	var m ModelMetadata
	var status string
	var metrics, cfg string
	var createdAt int64
	var activatedAt, deactivatedAt sql.NullInt64

	err := row.Scan(&m.ID, &m.StrategyName, &m.Version, &m.ModelPath, &status, &metrics, &cfg,
		&createdAt, &activatedAt, &deactivatedAt)
	if err != nil {
		return nil, err
	}

	m.Status = ModelStatus(status)
	m.CreatedAt = time.Unix(createdAt, 0)
	if activatedAt.Valid {
		t := time.Unix(activatedAt.Int64, 0)
		m.ActivatedAt = &t
	}
	if deactivatedAt.Valid {
		t := time.Unix(deactivatedAt.Int64, 0)
		m.DeactivatedAt = &t
	}
	_ = json.Unmarshal([]byte(metrics), &m.PerformanceMetrics)
	_ = json.Unmarshal([]byte(cfg), &m.Config)
	return &m, nil
}

func emptyIfNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

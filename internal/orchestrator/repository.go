package orchestrator

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a run id has no matching record.
var ErrNotFound = errors.New("orchestrator: run not found")

// Repository persists orchestration run records. Column-list SQL style
// follows internal/ledger/repository.go.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open, migrated orchestrator database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save persists run, overwriting any existing row with the same run id
// (a run is only ever saved once at the end of Orchestrator.Run, but
// upsert keeps a retried save idempotent).
func (r *Repository) Save(run *RunRecord) error {
	mappings, err := json.Marshal(run.Mappings)
	if err != nil {
		return fmt.Errorf("marshal mappings: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO orchestration_runs
		(run_id, strategy, as_of_date, status, num_signals, num_submitted, num_accepted, num_rejected, num_skipped, mappings, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status, num_signals = excluded.num_signals,
			num_submitted = excluded.num_submitted, num_accepted = excluded.num_accepted,
			num_rejected = excluded.num_rejected, num_skipped = excluded.num_skipped,
			mappings = excluded.mappings, duration_ms = excluded.duration_ms`,
		run.RunID, run.Strategy, run.AsOfDate, string(run.Status), run.NumSignals,
		run.Submitted, run.Accepted, run.Rejected, run.Skipped, string(mappings),
		run.StartedAt.Unix(), run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("save run record: %w", err)
	}
	return nil
}

// FindByRunID returns the persisted run record, or ErrNotFound.
func (r *Repository) FindByRunID(runID string) (*RunRecord, error) {
	var run RunRecord
	var status, mappings string
	var startedAt, durationMs int64

	err := r.db.QueryRow(`
		SELECT run_id, strategy, as_of_date, status, num_signals, num_submitted, num_accepted,
		       num_rejected, num_skipped, mappings, started_at, duration_ms
		FROM orchestration_runs WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.Strategy, &run.AsOfDate, &status, &run.NumSignals, &run.Submitted,
		&run.Accepted, &run.Rejected, &run.Skipped, &mappings, &startedAt, &durationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0)
	run.Duration = time.Duration(durationMs) * time.Millisecond
	_ = json.Unmarshal([]byte(mappings), &run.Mappings)
	return &run, nil
}

package orchestrator

// Schema creates the orchestration run-record table. One row per run,
// mappings serialized as JSON since they're a request-scoped detail
// rather than something reconciliation or the gateway ever query by
// column.
const Schema = `
CREATE TABLE IF NOT EXISTS orchestration_runs (
	run_id TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	as_of_date TEXT NOT NULL,
	status TEXT NOT NULL,
	num_signals INTEGER NOT NULL DEFAULT 0,
	num_submitted INTEGER NOT NULL DEFAULT 0,
	num_accepted INTEGER NOT NULL DEFAULT 0,
	num_rejected INTEGER NOT NULL DEFAULT 0,
	num_skipped INTEGER NOT NULL DEFAULT 0,
	mappings TEXT NOT NULL DEFAULT '[]',
	started_at INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
`

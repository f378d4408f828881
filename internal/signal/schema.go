package signal

// Schema creates the model registry catalog. Column-list style and
// explicit nullable timestamps follow internal/ledger/schema.go.
const Schema = `
CREATE TABLE IF NOT EXISTS model_registry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_name TEXT NOT NULL,
	version TEXT NOT NULL,
	model_path TEXT NOT NULL,
	status TEXT NOT NULL,
	performance_metrics TEXT NOT NULL DEFAULT '{}',
	config TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	activated_at INTEGER,
	deactivated_at INTEGER,
	UNIQUE(strategy_name, version)
);

CREATE INDEX IF NOT EXISTS idx_model_registry_strategy_status
	ON model_registry(strategy_name, status);
`

package risk

// Schema backs the shared risk store: kill switch, circuit breaker state
// and history, per-symbol position reservations, and quarantine flags.
// The spec describes this store as "conceptually a strongly-consistent
// per-key store supporting atomic add/compare-and-set" — no such store
// (Redis, etcd) appears anywhere in the retrieval pack, so it is built on
// the same modernc.org/sqlite the ledger uses, with single-row UPDATE...
// WHERE doing the compare-and-set work a KV store's CAS primitive would.
const Schema = `
CREATE TABLE IF NOT EXISTS kill_switch (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	engaged   INTEGER NOT NULL DEFAULT 0,
	reason    TEXT,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS circuit_breaker (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	state            TEXT NOT NULL DEFAULT 'open',
	trip_reason      TEXT,
	quiet_deadline   INTEGER,
	updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS circuit_breaker_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	from_state  TEXT NOT NULL,
	to_state    TEXT NOT NULL,
	reason      TEXT,
	occurred_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS position_reservations (
	symbol     TEXT PRIMARY KEY,
	reserved   INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reservation_leases (
	client_order_id TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	qty             INTEGER NOT NULL,
	expires_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quarantine (
	symbol     TEXT PRIMARY KEY,
	reason     TEXT,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reconciliation_gate (
	id              INTEGER PRIMARY KEY CHECK (id = 1),
	state           TEXT NOT NULL DEFAULT 'closed',
	high_water_mark INTEGER NOT NULL DEFAULT 0,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS price_cache (
	symbol     TEXT PRIMARY KEY,
	price      REAL NOT NULL,
	bid        REAL,
	ask        REAL,
	updated_at INTEGER NOT NULL
);
`

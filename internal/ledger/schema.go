package ledger

// Schema is executed by storedb.Migrate against the ledger database. It
// mirrors the teacher's migration style: plain CREATE TABLE IF NOT EXISTS
// statements, no external migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	client_order_id   TEXT PRIMARY KEY,
	broker_order_id   TEXT,
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	qty               INTEGER NOT NULL,
	order_type        TEXT NOT NULL,
	limit_price       REAL,
	time_in_force     TEXT,
	status            TEXT NOT NULL,
	filled_qty        INTEGER NOT NULL DEFAULT 0,
	avg_fill_price    REAL NOT NULL DEFAULT 0,
	strategy_id       TEXT,
	trade_date        TEXT NOT NULL,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	status_source     TEXT NOT NULL,
	status_sequence   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_trade_date ON orders(trade_date);

CREATE TABLE IF NOT EXISTS fills (
	fill_id           INTEGER PRIMARY KEY AUTOINCREMENT,
	client_order_id   TEXT NOT NULL REFERENCES orders(client_order_id),
	qty               INTEGER NOT NULL,
	price             REAL NOT NULL,
	broker_event_id   TEXT,
	timestamp         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(client_order_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_fills_dedupe ON fills(client_order_id, broker_event_id);

CREATE TABLE IF NOT EXISTS position_snapshots (
	symbol              TEXT PRIMARY KEY,
	qty                 INTEGER NOT NULL,
	avg_entry_price     REAL NOT NULL,
	last_reconciled_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orphan_orders (
	broker_order_id   TEXT PRIMARY KEY,
	symbol            TEXT NOT NULL,
	discovered_at     INTEGER NOT NULL,
	note              TEXT
);

CREATE TABLE IF NOT EXISTS webhook_events (
	client_order_id   TEXT NOT NULL,
	broker_event_id   TEXT NOT NULL,
	received_at       INTEGER NOT NULL,
	PRIMARY KEY (client_order_id, broker_event_id)
);

CREATE TABLE IF NOT EXISTS high_water_mark (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	reconciled_until  INTEGER NOT NULL
);
`

package marketdata

// Schema creates the quote snapshot table: one msgpack-encoded blob per
// symbol so a restart can warm the in-process cache before the first
// live tick arrives, rather than serving fail-closed on every symbol.
const Schema = `
CREATE TABLE IF NOT EXISTS quote_snapshot (
	symbol     TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

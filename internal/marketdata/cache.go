package marketdata

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is a thread-safe in-process quote cache backed by a SQLite
// snapshot table, mirroring the teacher's marketCache/cacheMu pair in
// MarketStatusWebSocket but persisting each update so a restarted
// process can warm-start instead of treating every symbol as stale.
type Cache struct {
	db *sql.DB

	mu    sync.RWMutex
	quote map[string]Quote
}

// NewCache wraps a quote-snapshot database connection.
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db, quote: make(map[string]Quote)}
}

// WarmFromDisk loads every persisted snapshot into the in-process cache.
// Call once at startup, before the WebSocket stream connects.
func (c *Cache) WarmFromDisk() (int, error) {
	rows, err := c.db.Query(`SELECT payload FROM quote_snapshot`)
	if err != nil {
		return 0, fmt.Errorf("query quote snapshots: %w", err)
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return loaded, fmt.Errorf("scan quote snapshot: %w", err)
		}
		var q Quote
		if err := msgpack.Unmarshal(payload, &q); err != nil {
			return loaded, fmt.Errorf("decode quote snapshot: %w", err)
		}
		c.quote[q.Symbol] = q
		loaded++
	}
	return loaded, rows.Err()
}

// Set records a new quote in the in-process cache and persists it.
func (c *Cache) Set(q Quote) error {
	c.mu.Lock()
	c.quote[q.Symbol] = q
	c.mu.Unlock()

	payload, err := msgpack.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote snapshot: %w", err)
	}
	_, err = c.db.Exec(`
		INSERT INTO quote_snapshot (symbol, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		q.Symbol, payload, q.UpdatedAt.Unix())
	return err
}

// Get returns the last-known quote for symbol, if any.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quote[symbol]
	return q, ok
}

// Snapshot returns a copy of every cached quote.
func (c *Cache) Snapshot() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Quote, len(c.quote))
	for k, v := range c.quote {
		out[k] = v
	}
	return out
}

// IsStale reports whether symbol has no quote, or one older than ttl.
func (c *Cache) IsStale(symbol string, ttl time.Duration) bool {
	q, ok := c.Get(symbol)
	if !ok {
		return true
	}
	return time.Since(q.UpdatedAt) > ttl
}

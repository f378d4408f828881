package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeplane/internal/storedb"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileStandard, Name: "marketdata-test"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(Schema))
	t.Cleanup(func() { _ = db.Close() })
	return NewCache(db.Conn())
}

func TestCache_SetThenGetReturnsQuote(t *testing.T) {
	cache := openTestCache(t)
	now := time.Now()
	require.NoError(t, cache.Set(Quote{Symbol: "AAPL", Last: 190.5, Bid: 190.4, Ask: 190.6, UpdatedAt: now}))

	q, ok := cache.Get("AAPL")
	require.True(t, ok)
	require.Equal(t, 190.5, q.Last)
}

func TestCache_GetMissingSymbolReturnsFalse(t *testing.T) {
	cache := openTestCache(t)
	_, ok := cache.Get("MSFT")
	require.False(t, ok)
}

func TestCache_IsStaleWithNoQuoteOrOldQuote(t *testing.T) {
	cache := openTestCache(t)
	require.True(t, cache.IsStale("AAPL", time.Minute))

	require.NoError(t, cache.Set(Quote{Symbol: "AAPL", Last: 100, UpdatedAt: time.Now().Add(-time.Hour)}))
	require.True(t, cache.IsStale("AAPL", time.Minute))

	require.NoError(t, cache.Set(Quote{Symbol: "AAPL", Last: 100, UpdatedAt: time.Now()}))
	require.False(t, cache.IsStale("AAPL", time.Minute))
}

func TestCache_WarmFromDiskRestoresPersistedQuotes(t *testing.T) {
	db, err := storedb.Open(storedb.Config{Path: "file::memory:?cache=shared", Profile: storedb.ProfileStandard, Name: "marketdata-warm-test"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(Schema))
	defer db.Close()

	original := NewCache(db.Conn())
	require.NoError(t, original.Set(Quote{Symbol: "AAPL", Last: 190.5, UpdatedAt: time.Now()}))
	require.NoError(t, original.Set(Quote{Symbol: "MSFT", Last: 410.2, UpdatedAt: time.Now()}))

	restarted := NewCache(db.Conn())
	_, ok := restarted.Get("AAPL")
	require.False(t, ok, "fresh cache should be empty before WarmFromDisk")

	n, err := restarted.WarmFromDisk()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	q, ok := restarted.Get("MSFT")
	require.True(t, ok)
	require.Equal(t, 410.2, q.Last)
}

func TestCache_SnapshotReturnsIndependentCopy(t *testing.T) {
	cache := openTestCache(t)
	require.NoError(t, cache.Set(Quote{Symbol: "AAPL", Last: 100, UpdatedAt: time.Now()}))

	snap := cache.Snapshot()
	snap["AAPL"] = Quote{Symbol: "AAPL", Last: 999}

	q, ok := cache.Get("AAPL")
	require.True(t, ok)
	require.Equal(t, 100.0, q.Last, "mutating the snapshot must not affect the cache")
}

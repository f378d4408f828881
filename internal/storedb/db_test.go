package storedb

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: "file::memory:?cache=shared", Profile: ProfileStandard, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	schema := `CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY, name TEXT);`

	require.NoError(t, db.Migrate(schema))
	require.NoError(t, db.Migrate(schema))

	_, err := db.Conn().Exec("INSERT INTO widgets (name) VALUES (?)", "gear")
	require.NoError(t, err)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY, name TEXT);`))

	boom := errors.New("boom")
	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, execErr := tx.Exec("INSERT INTO t (name) VALUES (?)", "x"); execErr != nil {
			return execErr
		}
		return boom
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Migrate(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY, name TEXT);`))

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec("INSERT INTO t (name) VALUES (?)", "x")
		return execErr
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.QuickCheck(context.Background()))
}

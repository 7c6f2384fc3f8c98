package database

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupTestConn(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)
	return conn
}

func TestWithTransactionCommits(t *testing.T) {
	conn := setupTestConn(t)

	err := WithTransaction(conn, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO items (name) VALUES (?)", "a")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM items").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	conn := setupTestConn(t)

	boom := errors.New("boom")
	err := WithTransaction(conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO items (name) VALUES (?)", "a"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM items").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	conn := setupTestConn(t)

	err := WithTransaction(conn, func(tx *sql.Tx) error {
		_, _ = tx.Exec("INSERT INTO items (name) VALUES (?)", "a")
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM items").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSchemaAppliesCleanly(t *testing.T) {
	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Exec(Schema())
	require.NoError(t, err)

	// The schema is written to be re-runnable.
	_, err = conn.Exec(Schema())
	require.NoError(t, err)

	for _, table := range []string{"fills", "cost_basis_lots", "lot_matches", "unmatched_closes", "posting_state"} {
		var name string
		err = conn.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "missing table %s", table)
	}
}

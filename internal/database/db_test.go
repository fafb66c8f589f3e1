package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_IsIdempotent(t *testing.T) {
	db := newDB(t, "state", ProfileStandard)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	var count int
	err := db.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'portfolio_state'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := newDB(t, "scratch", ProfileStandard)
	assert.NoError(t, db.Migrate())
}

func TestLedgerSchema_RejectsUpdateAndDelete(t *testing.T) {
	db := newDB(t, "ledger", ProfileLedger)
	require.NoError(t, db.Migrate())

	_, err := db.Conn().Exec(`INSERT INTO ledger
		(recorded_at, cycle_id, asset, action, price, quantity, fee, cash, portfolio_value)
		VALUES (1, 'c1', 'BTC', 'HOLD', '0', '0', '0', '0', '0')`)
	require.NoError(t, err)

	_, err = db.Conn().Exec(`UPDATE ledger SET action = 'BUY'`)
	assert.Error(t, err)

	_, err = db.Conn().Exec(`DELETE FROM ledger`)
	assert.Error(t, err)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newDB(t, "state", ProfileStandard)
	require.NoError(t, db.Migrate())

	boom := errors.New("boom")
	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO portfolio_state (key, value, updated_at) VALUES ('cash', '1', 0)`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM portfolio_state`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := newDB(t, "state", ProfileStandard)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("kaboom")
	})
	assert.ErrorContains(t, err, "kaboom")
}

func TestWithTransaction_NilDB(t *testing.T) {
	assert.Error(t, WithTransaction(nil, func(tx *sql.Tx) error { return nil }))
}

func TestHealthCheckAndCheckpoint(t *testing.T) {
	db := newDB(t, "ledger", ProfileLedger)
	require.NoError(t, db.Migrate())

	ctx := context.Background()
	assert.NoError(t, db.HealthCheck(ctx))
	assert.NoError(t, db.Checkpoint(ctx))
}

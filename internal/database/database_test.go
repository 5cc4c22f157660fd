package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	lite := &DB{driver: DriverSQLite}

	q := "UPDATE t SET a = a + ? WHERE id = ? AND a + ? <= ?"
	assert.Equal(t, "UPDATE t SET a = a + $1 WHERE id = $2 AND a + $3 <= $4", pg.Rebind(q))
	assert.Equal(t, q, lite.Rebind(q))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := OpenTest(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)

	for _, table := range []string{"entitlements", "usage_events", "leads", "integrations", "settings", "processed_webhook_events"} {
		var n int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
		assert.NoError(t, err, table)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := OpenTest(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)", "k", "v", 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM settings").Scan(&n))
	assert.Zero(t, n)
}

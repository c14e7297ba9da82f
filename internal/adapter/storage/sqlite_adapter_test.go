package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

func openTestSQLite(t *testing.T, path string) *SQLiteAdapter {
	t.Helper()
	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRepositories(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) repositories {
		db := openTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
		return repositories{ledger: db, catalog: db, sessions: db}
	})
}

func TestSQLite_UnknownSKU(t *testing.T) {
	db := openTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))

	_, _, err := db.Append(context.Background(), event("GHOST", domain.EventReceive, 1), true)

	var unknown *domain.UnknownSkuError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "GHOST", unknown.SKU)
	assert.ErrorIs(t, err, domain.ErrUnknownSKU)
}

func TestSQLite_ReopenKeepsLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	r := repositories{ledger: first, catalog: first, sessions: first}
	sku := newItem(t, r, "durable")
	stored, _, err := first.Append(ctx, event(sku, domain.EventReceive, 12), true)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Migrate runs again on open and must leave existing rows alone.
	second := openTestSQLite(t, path)
	q, watermark, err := second.Quantity(ctx, sku)
	require.NoError(t, err)
	assert.Equal(t, int64(12), q)
	assert.Equal(t, stored.ID, watermark)

	next, _, err := second.Append(ctx, event(sku, domain.EventPick, -2), true)
	require.NoError(t, err)
	assert.Greater(t, next.ID, stored.ID)
}

func TestClassifySQLite(t *testing.T) {
	assert.Equal(t, errOther, classifySQLite(errors.New("boom")))
	assert.Equal(t, errOther, classifySQLite(nil))

	db := openTestSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	ctx := context.Background()

	_, err := db.db.ExecContext(ctx, `INSERT INTO ledger_events (sku, event_type, delta, occurred_at, actor) VALUES ('nope', 'receive', 1, 0, 'x')`)
	require.Error(t, err)
	assert.Equal(t, errForeignKey, classifySQLite(err))

	r := repositories{ledger: db, catalog: db, sessions: db}
	sku := newItem(t, r, "dup")
	_, err = db.db.ExecContext(ctx, `INSERT INTO items (sku, unit_of_measure, code_type, created_at, updated_at) VALUES (?, 'each', 'code128', 0, 0)`, sku)
	require.Error(t, err)
	assert.Equal(t, errUnique, classifySQLite(err))
}

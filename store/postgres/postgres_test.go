package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/warehouse-ledger/warehouse"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code      string
		retryable bool
	}{
		{codeSerializationFailure, true},
		{codeDeadlockDetected, true},
		{"23503", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classify("commit", &pgconn.PgError{Code: tt.code})
			assert.Equal(t, tt.retryable, warehouse.IsRetryable(err))
		})
	}
}

func TestClassifyWrite(t *testing.T) {
	dup := &warehouse.DuplicateKeyError{Entity: "arrival", Field: "number", Value: "A-1"}

	assert.Same(t, dup, classifyWrite("insert arrival", &pgconn.PgError{Code: codeUniqueViolation}, dup))

	err := classifyWrite("insert arrival", errors.New("connection reset"), dup)
	assert.NotErrorIs(t, err, warehouse.ErrDuplicateKey)
}

// newTestStore connects to WAREHOUSE_TEST_POSTGRES_DSN or skips.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("WAREHOUSE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WAREHOUSE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, 4)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(s.Close)
	return s
}

func TestStore_LedgerEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	catalog := warehouse.NewCatalog(s)
	ledger := warehouse.NewLedger(s)

	// GIVEN
	bolt, err := catalog.CreateResource(ctx, "Bolt")
	require.NoError(t, err)
	pcs, err := catalog.CreateUnit(ctx, "pcs")
	require.NoError(t, err)
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err := ledger.CreateArrival(ctx, warehouse.ArrivalInput{Number: "A-1", Date: date, Lines: []warehouse.LineInput{
		{ResourceID: bolt.ID, UnitID: pcs.ID, Quantity: 10},
	}})
	require.NoError(t, err)

	// WHEN: a correction would overdraw
	_, err = ledger.CreateArrival(ctx, warehouse.ArrivalInput{Number: "C-1", Date: date, Lines: []warehouse.LineInput{
		{ResourceID: bolt.ID, UnitID: pcs.ID, Quantity: -11},
	}})

	// THEN
	assert.ErrorIs(t, err, warehouse.ErrNegativeBalance)
	got, err := ledger.GetArrival(ctx, id)
	require.NoError(t, err)
	assert.True(t, date.Equal(got.Date))

	balance, err := ledger.GetBalance(ctx, warehouse.BalanceFilter{})
	require.NoError(t, err)
	assert.Equal(t, []warehouse.BalanceEntry{
		{ResourceID: bolt.ID, UnitID: pcs.ID, ResourceName: "Bolt", UnitName: "pcs", Quantity: 10},
	}, balance)

	_, err = catalog.CreateUnit(ctx, "pcs")
	assert.ErrorIs(t, err, warehouse.ErrDuplicateKey)
	assert.ErrorIs(t, catalog.ArchiveUnit(ctx, pcs.ID), warehouse.ErrEntityInUse)
}

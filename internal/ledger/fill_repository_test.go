package ledger

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertIsIdempotentPerOrder(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewFillRepository(db, zerolog.Nop())

	fill := buyFill(42, 2, 1.50, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	fill.Status = "WORKING"

	fillID, err := repo.Upsert(fill)
	require.NoError(t, err)
	assert.Equal(t, "schwab-order:42", fillID)

	// Re-ingesting the same order with fresher data updates in place.
	fill.Status = "FILLED"
	fill.FilledQty = 2
	fill.Price = 1.55

	fillID2, err := repo.Upsert(fill)
	require.NoError(t, err)
	assert.Equal(t, fillID, fillID2)

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM fills").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := repo.GetByOrderID(42)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "FILLED", stored.Status)
	assert.Equal(t, 1.55, stored.Price)
	assert.Equal(t, fillID, stored.FillID)
}

func TestUpsertRejectsMissingOrderID(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewFillRepository(db, zerolog.Nop())

	_, err := repo.Upsert(Fill{Symbol: "AAPL"})
	assert.Error(t, err)
}

func TestUpsertCreatesPostingRowOnce(t *testing.T) {
	db := setupLedgerTestDB(t)
	fills := NewFillRepository(db, zerolog.Nop())
	postings := NewPostingRepository(db, zerolog.Nop())

	fill := buyFill(7, 1, 1.00, time.Now())
	fillID, err := fills.Upsert(fill)
	require.NoError(t, err)

	require.NoError(t, postings.MarkPosted(fillID, "msg-1"))

	// Re-ingestion must not reset the posted flag.
	_, err = fills.Upsert(fill)
	require.NoError(t, err)

	rec, err := postings.Get(fillID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Posted)
	assert.Equal(t, "msg-1", rec.ExternalMessageID)
}

func TestGetByOrderIDReturnsNilWhenAbsent(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewFillRepository(db, zerolog.Nop())

	fill, err := repo.GetByOrderID(12345)
	require.NoError(t, err)
	assert.Nil(t, fill)
}

func TestTotalSoldSumsSellFills(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewFillRepository(db, zerolog.Nop())

	symbol := "AAPL  250117C00150000"

	buy := buyFill(1, 5, 1.00, time.Now())
	sellA := sellFill(2, 2, 2.00)
	sellB := sellFill(3, 1, 2.50)
	for _, f := range []Fill{buy, sellA, sellB} {
		_, err := repo.Upsert(f)
		require.NoError(t, err)
	}

	total, err := repo.TotalSold(symbol)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	// Unknown symbols report zero.
	total, err = repo.TotalSold("MSFT")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestListOrdersByEnteredTime(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewFillRepository(db, zerolog.Nop())

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	late := buyFill(2, 1, 1.00, base.Add(time.Hour))
	early := buyFill(1, 1, 1.00, base)
	for _, f := range []Fill{late, early} {
		_, err := repo.Upsert(f)
		require.NoError(t, err)
	}

	fills, err := repo.List(10)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, int64(1), fills[0].OrderID)
	assert.Equal(t, int64(2), fills[1].OrderID)
}

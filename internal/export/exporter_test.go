package export

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	_ "modernc.org/sqlite"

	"tradenotify/internal/config"
	"tradenotify/internal/database"
	"tradenotify/internal/ledger"
)

func TestClassifyOutcome(t *testing.T) {
	assert.Equal(t, "WIN", ClassifyOutcome(10.01))
	assert.Equal(t, "WIN", ClassifyOutcome(200))
	assert.Equal(t, "LOSS", ClassifyOutcome(-10.01))
	assert.Equal(t, "LOSS", ClassifyOutcome(-100))
	assert.Equal(t, "BREAKEVEN", ClassifyOutcome(10))
	assert.Equal(t, "BREAKEVEN", ClassifyOutcome(-10))
	assert.Equal(t, "BREAKEVEN", ClassifyOutcome(0))
}

func TestExportWritesWorkbook(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(database.Schema())
	require.NoError(t, err)

	log := zerolog.Nop()
	fills := ledger.NewFillRepository(db, log)
	lots := ledger.NewLotRepository(db, log)
	matcher := ledger.NewMatcher(lots, config.OrderingFIFO, config.ScopeUnderlying, log)

	buy := ledger.Fill{
		OrderID:     1,
		Symbol:      "ORCL  260213C00149000",
		Underlying:  "ORCL",
		AssetType:   "OPTION",
		Side:        "BUY_TO_OPEN",
		OrderedQty:  2,
		FilledQty:   2,
		Price:       1.00,
		Status:      "FILLED",
		EnteredTime: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
	}
	buy.FillID = ledger.MakeFillID(buy.OrderID)
	_, err = fills.Upsert(buy)
	require.NoError(t, err)
	_, err = matcher.ProcessOpen(&buy)
	require.NoError(t, err)

	sell := buy
	sell.OrderID = 2
	sell.FillID = ledger.MakeFillID(sell.OrderID)
	sell.Side = "SELL_TO_CLOSE"
	sell.Price = 3.00
	sell.EnteredTime = buy.EnteredTime.Add(2 * time.Hour)
	_, err = fills.Upsert(sell)
	require.NoError(t, err)
	result, err := matcher.ProcessClose(&sell)
	require.NoError(t, err)
	require.NotNil(t, result)

	dir := t.TempDir()
	exporter := NewExporter(fills, lots, dir, log)

	path, err := exporter.Export()
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	// The workbook opens and carries both sheets with data rows.
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Trade Log", "Cost Basis"}, f.GetSheetList())

	rows, err := f.GetRows("Trade Log")
	require.NoError(t, err)
	// Header, two fills, total row.
	require.Len(t, rows, 4)
	assert.Equal(t, "Date/Time", rows[0][0])

	outcome, err := f.GetCellValue("Trade Log", "K3")
	require.NoError(t, err)
	assert.Equal(t, "WIN", outcome)

	lotRows, err := f.GetRows("Cost Basis")
	require.NoError(t, err)
	assert.Equal(t, "Lot ID", lotRows[0][0])
}

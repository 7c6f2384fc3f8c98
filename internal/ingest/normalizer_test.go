package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func sampleOrder() Order {
	return Order{
		OrderID:           int64Ptr(1003588135951),
		Quantity:          2,
		FilledQuantity:    2,
		RemainingQuantity: 0,
		Price:             1.50,
		Status:            "FILLED",
		EnteredTime:       "2026-02-10T14:30:05+0000",
		OrderLegs: []OrderLeg{
			{
				Instruction:    "BUY_TO_OPEN",
				PositionEffect: "OPENING",
				OrderLegType:   "OPTION",
				Instrument: Instrument{
					Symbol:           "ORCL  260213C00149000",
					UnderlyingSymbol: "ORCL",
					Description:      "ORACLE CORP 02/13/2026 $149 Call",
					AssetType:        "OPTION",
				},
			},
		},
	}
}

func TestNormalizeBasicFields(t *testing.T) {
	fill, err := Normalize(sampleOrder())
	require.NoError(t, err)

	assert.Equal(t, "schwab-order:1003588135951", fill.FillID)
	assert.Equal(t, int64(1003588135951), fill.OrderID)
	assert.Equal(t, "ORCL  260213C00149000", fill.Symbol)
	assert.Equal(t, "ORCL", fill.Underlying)
	assert.Equal(t, "OPTION", fill.AssetType)
	assert.Equal(t, "BUY_TO_OPEN", fill.Side)
	assert.Equal(t, int64(2), fill.OrderedQty)
	assert.Equal(t, int64(2), fill.FilledQty)
	assert.Equal(t, "FILLED", fill.Status)
	assert.Equal(t, 2026, fill.EnteredTime.Year())
}

func TestNormalizeRejectsMissingOrderID(t *testing.T) {
	order := sampleOrder()
	order.OrderID = nil
	_, err := Normalize(order)
	assert.ErrorIs(t, err, ErrNoOrderID)

	order.OrderID = int64Ptr(0)
	_, err = Normalize(order)
	assert.ErrorIs(t, err, ErrNoOrderID)
}

func TestNormalizeWeightedFillPrice(t *testing.T) {
	order := sampleOrder()
	order.Price = 1.00 // requested limit, not what filled
	order.OrderActivities = []OrderActivity{
		{ExecutionLegs: []ExecutionLeg{
			{Price: 1.10, Quantity: 1},
			{Price: 1.30, Quantity: 1},
		}},
	}

	fill, err := Normalize(order)
	require.NoError(t, err)
	assert.InDelta(t, 1.20, fill.Price, 1e-9)
}

func TestNormalizeFallsBackToRequestedPrice(t *testing.T) {
	order := sampleOrder()
	order.Price = 1.45
	order.OrderActivities = nil

	fill, err := Normalize(order)
	require.NoError(t, err)
	assert.Equal(t, 1.45, fill.Price)
}

func TestNormalizeFoldsPositionEffectIntoSide(t *testing.T) {
	order := sampleOrder()
	order.OrderLegs[0].Instruction = "SELL"
	order.OrderLegs[0].PositionEffect = "CLOSING"

	fill, err := Normalize(order)
	require.NoError(t, err)
	assert.Equal(t, "SELL_TO_CLOSE", fill.Side)
	assert.True(t, fill.IsSell())
	assert.True(t, fill.IsClose())

	// Instructions that already carry the effect are left alone.
	order.OrderLegs[0].Instruction = "SELL_TO_CLOSE"
	order.OrderLegs[0].PositionEffect = "CLOSING"
	fill, err = Normalize(order)
	require.NoError(t, err)
	assert.Equal(t, "SELL_TO_CLOSE", fill.Side)
}

func TestNormalizeTruncatesFractionalQuantities(t *testing.T) {
	order := sampleOrder()
	order.Quantity = 2.0
	order.FilledQuantity = 1.9999

	fill, err := Normalize(order)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fill.OrderedQty)
	assert.Equal(t, int64(1), fill.FilledQty)
}

func TestNormalizeUnderlyingFallback(t *testing.T) {
	order := sampleOrder()
	order.OrderLegs[0].Instrument.UnderlyingSymbol = ""

	fill, err := Normalize(order)
	require.NoError(t, err)
	assert.Equal(t, "ORCL", fill.Underlying)
}

func TestExtractUnderlying(t *testing.T) {
	assert.Equal(t, "AAPL", ExtractUnderlying("AAPL  260220C00267500"))
	assert.Equal(t, "AAPL", ExtractUnderlying("AAPL"))
	assert.Equal(t, "", ExtractUnderlying(""))
}

func TestParseStrikeDisplay(t *testing.T) {
	assert.Equal(t, "149c", ParseStrikeDisplay("ORACLE CORP 02/13/2026 $149 Call"))
	assert.Equal(t, "267.5p", ParseStrikeDisplay("APPLE INC 02/20/2026 $267.5 Put"))
	assert.Equal(t, "N/A", ParseStrikeDisplay(""))
	assert.Equal(t, "APPLE INC", ParseStrikeDisplay("APPLE INC"))
}

func TestParseExpiration(t *testing.T) {
	assert.Equal(t, "02/13/2026", ParseExpiration("ORACLE CORP 02/13/2026 $149 Call"))
	assert.Equal(t, "N/A", ParseExpiration("APPLE INC"))
	assert.Equal(t, "N/A", ParseExpiration(""))
}

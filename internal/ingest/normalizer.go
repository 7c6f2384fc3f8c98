package ingest

import (
	"errors"
	"strings"
	"time"

	"tradenotify/internal/ledger"
)

// ErrNoOrderID marks a payload without a usable order identity. The caller
// skips the record and continues with the rest of the batch; a single
// malformed order never aborts a poll cycle.
var ErrNoOrderID = errors.New("order payload has no order id")

// enteredTimeLayouts are the timestamp formats the brokerage has been seen
// to emit for enteredTime/closeTime.
var enteredTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
}

// Normalize converts one raw brokerage order payload into a canonical Fill.
//
// Derivation rules:
//   - symbol/underlying/side/description come from the first leg's
//     instrument block; underlying falls back to the instrument symbol
//     itself when no separate field is present
//   - fill price is the quantity-weighted average over all execution legs
//     if any exist, else the order's requested price
//   - quantities are coerced safely: fractional counts such as 1.0 are
//     accepted and truncated to integral contract counts
func Normalize(order Order) (ledger.Fill, error) {
	if order.OrderID == nil || *order.OrderID == 0 {
		return ledger.Fill{}, ErrNoOrderID
	}

	var leg OrderLeg
	if len(order.OrderLegs) > 0 {
		leg = order.OrderLegs[0]
	}

	symbol := leg.Instrument.Symbol
	if symbol == "" {
		symbol = order.Symbol
	}

	underlying := leg.Instrument.UnderlyingSymbol
	if underlying == "" {
		underlying = ExtractUnderlying(symbol)
	}

	assetType := leg.Instrument.AssetType
	if assetType == "" {
		assetType = leg.OrderLegType
	}

	// Some payload variants carry OPENING/CLOSING separately from the
	// instruction; fold a canonical qualifier in so downstream checks
	// see one string.
	side := leg.Instruction
	if effect := strings.ToUpper(leg.PositionEffect); effect != "" {
		qualifier := ""
		switch {
		case strings.HasPrefix(effect, "OPEN"):
			qualifier = "OPEN"
		case strings.HasPrefix(effect, "CLOS"):
			qualifier = "CLOSE"
		}
		if qualifier != "" && !strings.Contains(strings.ToUpper(side), qualifier) {
			side = side + "_TO_" + qualifier
		}
	}

	return ledger.Fill{
		FillID:       ledger.MakeFillID(*order.OrderID),
		OrderID:      *order.OrderID,
		Symbol:       symbol,
		Underlying:   underlying,
		AssetType:    assetType,
		Side:         side,
		Description:  leg.Instrument.Description,
		OrderedQty:   safeInt(order.Quantity),
		FilledQty:    safeInt(order.FilledQuantity),
		RemainingQty: safeInt(order.RemainingQuantity),
		Price:        extractFillPrice(order),
		Status:       order.Status,
		EnteredTime:  parseTime(order.EnteredTime),
		CloseTime:    parseTimePtr(order.CloseTime),
	}, nil
}

// extractFillPrice returns the actual fill price for an order.
//
// The brokerage returns two price values: the order header's price (the
// limit price that was requested) and per-execution-leg prices (what
// actually filled). For filled orders the quantity-weighted average of
// execution prices is the true price; the requested price is only a
// fallback for orders with no execution data.
func extractFillPrice(order Order) float64 {
	var totalValue, totalQty float64

	for _, activity := range order.OrderActivities {
		for _, exec := range activity.ExecutionLegs {
			if exec.Price > 0 && exec.Quantity > 0 {
				totalValue += exec.Price * exec.Quantity
				totalQty += exec.Quantity
			}
		}
	}

	if totalQty > 0 {
		return totalValue / totalQty
	}

	return order.Price
}

// ExtractUnderlying returns the root ticker of a compound instrument symbol.
// Option symbols are space-separated ("AAPL  260220C00267500"); plain equity
// symbols pass through unchanged.
func ExtractUnderlying(symbol string) string {
	if i := strings.Index(symbol, " "); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// safeInt truncates a numeric quantity to an integral contract count.
// The brokerage often sends counts as floats ("1.0").
func safeInt(v float64) int64 {
	return int64(v)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range enteredTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTimePtr(s string) *time.Time {
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Package ledger is the ingestion and lot-matching core: it stores each
// brokerage fill exactly once, maintains open cost-basis lots, matches
// closing fills against lots, and tracks announcement state.
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// AssetTypeOption marks option fills; these carry the 100x contract multiplier.
const AssetTypeOption = "OPTION"

// OptionContractMultiplier converts a per-contract option price into notional value.
const OptionContractMultiplier = 100.0

// Fill is one executed brokerage order event, normalized and columnized.
type Fill struct {
	FillID      string // Stable identity derived from the brokerage order id
	OrderID     int64
	Symbol      string // Full symbol (includes option details for options)
	Underlying  string // Just the ticker (e.g., "AAPL") for display
	AssetType   string
	Side        string // Instruction text, e.g. "BUY", "SELL_TO_CLOSE"
	Description string

	OrderedQty   int64
	FilledQty    int64
	RemainingQty int64

	Price  float64 // Actual fill price (not limit price)
	Status string

	EnteredTime time.Time
	CloseTime   *time.Time
	IngestedAt  time.Time
}

// MakeFillID derives the stable fill identity from a brokerage order id.
// Deterministic, so re-ingesting the same order always maps to the same row.
func MakeFillID(orderID int64) string {
	return fmt.Sprintf("schwab-order:%d", orderID)
}

// IsBuy reports whether the fill's instruction is a buy.
func (f *Fill) IsBuy() bool {
	return strings.Contains(strings.ToUpper(f.Side), "BUY")
}

// IsSell reports whether the fill's instruction is a sell.
func (f *Fill) IsSell() bool {
	return strings.Contains(strings.ToUpper(f.Side), "SELL")
}

// IsOpen reports whether the instruction carries an OPEN qualifier.
func (f *Fill) IsOpen() bool {
	return strings.Contains(strings.ToUpper(f.Side), "OPEN")
}

// IsClose reports whether the instruction carries a CLOSE qualifier.
func (f *Fill) IsClose() bool {
	return strings.Contains(strings.ToUpper(f.Side), "CLOSE")
}

// ContractMultiplier returns 100 for option fills and 1 otherwise.
func (f *Fill) ContractMultiplier() float64 {
	if f.AssetType == AssetTypeOption {
		return OptionContractMultiplier
	}
	return 1.0
}

// CostBasisLot is one opening position unit created from a buy fill.
// At most one lot exists per opening order.
type CostBasisLot struct {
	LotID        int64
	OrderID      int64
	Symbol       string
	Underlying   string
	Qty          float64
	RemainingQty float64
	AvgCost      float64
	EnteredTime  time.Time
	CreatedAt    time.Time
}

// LotMatch is the result of applying part or all of a closing fill
// against one lot. Immutable once recorded.
type LotMatch struct {
	MatchID      int64
	CloseOrderID int64
	LotID        int64
	Qty          float64
	CostBasis    float64
	ClosePrice   float64
	GainPct      float64
	GainAmount   float64
	MatchedAt    time.Time
}

// UnmatchedClose records a closing fill for which no open lot existed at
// processing time. Its existence short-circuits re-processing of the order.
type UnmatchedClose struct {
	CloseOrderID int64
	Symbol       string
	Qty          float64
	ClosePrice   float64
	RecordedAt   time.Time
}

// PostingRecord tracks announcement state for a fill.
// Once posted, it never transitions back.
type PostingRecord struct {
	FillID            string
	Posted            bool
	PostedAt          *time.Time
	ExternalMessageID string
	UpdatedAt         time.Time
}

// GainResult summarizes matching a closing fill against open lots.
// AvgGainPct is the quantity-weighted average of per-lot gain percentages
// over matched portions only; it is not total gain over total cost.
type GainResult struct {
	AvgGainPct      float64
	TotalGainAmount float64
	QtyMatched      float64
	LotsMatched     int
}

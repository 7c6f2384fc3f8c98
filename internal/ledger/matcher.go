package ledger

import (
	"fmt"

	"github.com/rs/zerolog"

	"tradenotify/internal/config"
)

// Matcher applies fills against the cost-basis ledger: opening fills create
// lots, closing fills consume them under a single ordering policy fixed at
// construction time. The policy and lot-selection scope are deployment
// constants; mixing policies across call sites silently changes financial
// results, so neither can be switched per call.
type Matcher struct {
	lots     *LotRepository
	ordering config.MatchOrdering
	scope    config.MatchScope
	log      zerolog.Logger
}

// NewMatcher creates a new lot matcher
func NewMatcher(lots *LotRepository, ordering config.MatchOrdering, scope config.MatchScope, log zerolog.Logger) *Matcher {
	return &Matcher{
		lots:     lots,
		ordering: ordering,
		scope:    scope,
		log:      log.With().Str("component", "matcher").Logger(),
	}
}

// WithRepository returns a copy of the matcher bound to the given lot
// repository (typically a transaction-scoped view).
func (m *Matcher) WithRepository(lots *LotRepository) *Matcher {
	return &Matcher{lots: lots, ordering: m.ordering, scope: m.scope, log: m.log}
}

// ProcessOpen records a cost-basis lot for an opening (buy) fill.
// Returns true if a new lot was created, false if one already existed.
func (m *Matcher) ProcessOpen(fill *Fill) (bool, error) {
	if fill.OrderID == 0 {
		return false, fmt.Errorf("opening fill has no order id")
	}

	exists, err := m.lots.HasLotForOrder(fill.OrderID)
	if err != nil {
		return false, err
	}
	if exists {
		m.log.Debug().Int64("order_id", fill.OrderID).Msg("Buy order already recorded as lot")
		return false, nil
	}

	_, err = m.lots.CreateLot(
		fill.OrderID,
		fill.Symbol,
		fill.Underlying,
		float64(fill.FilledQty),
		fill.Price,
		fill.EnteredTime,
	)
	if err != nil {
		return false, err
	}

	return true, nil
}

// ProcessClose matches a closing (sell) fill against open lots and records
// the resulting matches. Returns the weighted-average gain result, or nil
// when nothing matched.
//
// Idempotent: an order that already produced matches returns its stored
// average gain without writing; an order already recorded as unmatched
// returns nil without writing. A close that finds zero open lots is a normal
// business outcome (e.g. historical backfill gaps), recorded once as an
// unmatched close. When lots run out mid-close, the uncovered remainder is
// left unrecorded; partial coverage is accepted.
func (m *Matcher) ProcessClose(fill *Fill) (*GainResult, error) {
	if fill.OrderID == 0 {
		return nil, fmt.Errorf("closing fill has no order id")
	}

	matched, err := m.lots.IsCloseMatched(fill.OrderID)
	if err != nil {
		return nil, err
	}
	if matched {
		avg, err := m.lots.AvgGainForClose(fill.OrderID)
		if err != nil {
			return nil, err
		}
		if avg != nil {
			return &GainResult{AvgGainPct: *avg}, nil
		}
		return nil, nil
	}

	unmatched, err := m.lots.IsCloseUnmatched(fill.OrderID)
	if err != nil {
		return nil, err
	}
	if unmatched {
		return nil, nil
	}

	key := fill.Underlying
	if m.scope == config.ScopeSymbol {
		key = fill.Symbol
	}

	openLots, err := m.lots.OpenLots(m.scope, key, m.ordering)
	if err != nil {
		return nil, err
	}

	if len(openLots) == 0 {
		m.log.Warn().
			Str("key", key).
			Int64("order_id", fill.OrderID).
			Msg("No open lots found to match closing order")
		if err := m.lots.RecordUnmatchedClose(fill.OrderID, fill.Symbol, float64(fill.FilledQty), fill.Price); err != nil {
			return nil, err
		}
		return nil, nil
	}

	multiplier := fill.ContractMultiplier()
	remainingToClose := float64(fill.FilledQty)

	var totalGainAmount float64
	var totalWeightedGain float64
	var totalQtyMatched float64
	lotsMatched := 0

	for _, lot := range openLots {
		if remainingToClose <= 0 {
			break
		}

		qtyFromLot := remainingToClose
		if lot.RemainingQty < qtyFromLot {
			qtyFromLot = lot.RemainingQty
		}

		costForQty := qtyFromLot * lot.AvgCost * multiplier
		revenueForQty := qtyFromLot * fill.Price * multiplier
		gainAmount := revenueForQty - costForQty

		gainPct := 0.0
		if lot.AvgCost > 0 {
			gainPct = (fill.Price - lot.AvgCost) / lot.AvgCost * 100
		}

		if _, err := m.lots.RecordMatch(LotMatch{
			CloseOrderID: fill.OrderID,
			LotID:        lot.LotID,
			Qty:          qtyFromLot,
			CostBasis:    lot.AvgCost,
			ClosePrice:   fill.Price,
			GainPct:      gainPct,
			GainAmount:   gainAmount,
		}); err != nil {
			return nil, err
		}

		if err := m.lots.ReduceLot(lot.LotID, qtyFromLot); err != nil {
			return nil, err
		}

		totalWeightedGain += gainPct * qtyFromLot
		totalQtyMatched += qtyFromLot
		totalGainAmount += gainAmount
		lotsMatched++
		remainingToClose -= qtyFromLot

		m.log.Info().
			Int64("lot_id", lot.LotID).
			Float64("qty", qtyFromLot).
			Float64("cost", lot.AvgCost).
			Float64("gain_pct", gainPct).
			Msg("Matched quantity from lot")
	}

	if totalQtyMatched <= 0 {
		return nil, nil
	}

	// Weighted average of per-lot percentages over matched portions only.
	// This is deliberately not total gain over total cost.
	return &GainResult{
		AvgGainPct:      totalWeightedGain / totalQtyMatched,
		TotalGainAmount: totalGainAmount,
		QtyMatched:      totalQtyMatched,
		LotsMatched:     lotsMatched,
	}, nil
}

// WeightedEntryPrice returns the quantity-weighted average cost basis over
// a close's recorded matches, or nil if the order has no matches. Used for
// announcement context.
func (m *Matcher) WeightedEntryPrice(closeOrderID int64) (*float64, error) {
	matches, err := m.lots.MatchesForClose(closeOrderID)
	if err != nil {
		return nil, err
	}

	var totalQty, totalCost float64
	for _, match := range matches {
		totalQty += match.Qty
		totalCost += match.Qty * match.CostBasis
	}
	if totalQty <= 0 {
		return nil, nil
	}

	entry := totalCost / totalQty
	return &entry, nil
}

package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tradenotify/internal/config"
)

const lotColumns = `lot_id, order_id, symbol, underlying, qty, remaining_qty, avg_cost, entered_time, created_at`

const matchColumns = `match_id, close_order_id, lot_id, qty, cost_basis, close_price, gain_pct, gain_amount, matched_at`

// LotRepository handles cost-basis lots, lot matches, and unmatched closes.
type LotRepository struct {
	q   Querier
	log zerolog.Logger
}

// NewLotRepository creates a new lot repository
func NewLotRepository(q Querier, log zerolog.Logger) *LotRepository {
	return &LotRepository{
		q:   q,
		log: log.With().Str("repo", "lots").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *LotRepository) WithTx(tx *sql.Tx) *LotRepository {
	return &LotRepository{q: tx, log: r.log}
}

// CreateLot records a new cost-basis lot for an opening order. Idempotent:
// if a lot already exists for the order id, the existing lot id is returned
// and nothing is written.
func (r *LotRepository) CreateLot(orderID int64, symbol, underlying string, qty, avgCost float64, enteredTime time.Time) (int64, error) {
	if existing, err := r.GetLotByOrderID(orderID); err != nil {
		return 0, err
	} else if existing != nil {
		return existing.LotID, nil
	}

	res, err := r.q.Exec(`
		INSERT OR IGNORE INTO cost_basis_lots
		(order_id, symbol, underlying, qty, remaining_qty, avg_cost, entered_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, orderID, symbol, underlying, qty, qty, avgCost, timeToUnix(enteredTime), time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create lot: %w", err)
	}

	lotID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get lot id: %w", err)
	}

	r.log.Info().
		Int64("order_id", orderID).
		Str("symbol", symbol).
		Float64("qty", qty).
		Float64("avg_cost", avgCost).
		Msg("Cost basis lot created")

	return lotID, nil
}

// HasLotForOrder checks if a lot already exists for an opening order.
func (r *LotRepository) HasLotForOrder(orderID int64) (bool, error) {
	var exists int
	err := r.q.QueryRow("SELECT 1 FROM cost_basis_lots WHERE order_id = ? LIMIT 1", orderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check lot existence: %w", err)
	}
	return true, nil
}

// GetLotByOrderID retrieves the lot created by an opening order, or nil.
func (r *LotRepository) GetLotByOrderID(orderID int64) (*CostBasisLot, error) {
	row := r.q.QueryRow("SELECT "+lotColumns+" FROM cost_basis_lots WHERE order_id = ?", orderID)
	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lot by order id: %w", err)
	}
	return &lot, nil
}

// OpenLots returns lots with remaining quantity, selected by the given scope
// (underlying ticker or exact symbol) and sorted by entered time according
// to the ordering policy. The sort is always explicit; storage scan order is
// never relied on.
func (r *LotRepository) OpenLots(scope config.MatchScope, key string, ordering config.MatchOrdering) ([]CostBasisLot, error) {
	column := "underlying"
	if scope == config.ScopeSymbol {
		column = "symbol"
	}

	direction := "ASC"
	if ordering == config.OrderingLIFO {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT %s FROM cost_basis_lots
		WHERE %s = ? AND remaining_qty > 0
		ORDER BY entered_time %s, lot_id %s
	`, lotColumns, column, direction, direction)

	rows, err := r.q.Query(query, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get open lots: %w", err)
	}
	defer rows.Close()

	var lots []CostBasisLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}

	return lots, nil
}

// ReduceLot decrements a lot's remaining quantity after a match. The caller
// guarantees qty does not exceed the current remaining quantity; the CHECK
// constraint on the column backstops that guarantee.
func (r *LotRepository) ReduceLot(lotID int64, qty float64) error {
	res, err := r.q.Exec(`
		UPDATE cost_basis_lots
		SET remaining_qty = remaining_qty - ?
		WHERE lot_id = ?
	`, qty, lotID)
	if err != nil {
		return fmt.Errorf("failed to reduce lot %d: %w", lotID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: reduce lot %d affected %d rows", ErrIntegrity, lotID, affected)
	}

	return nil
}

// RecordMatch appends a lot match row.
func (r *LotRepository) RecordMatch(m LotMatch) (int64, error) {
	res, err := r.q.Exec(`
		INSERT INTO lot_matches
		(close_order_id, lot_id, qty, cost_basis, close_price, gain_pct, gain_amount, matched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.CloseOrderID, m.LotID, m.Qty, m.CostBasis, m.ClosePrice, m.GainPct, m.GainAmount, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to record match: %w", err)
	}

	matchID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get match id: %w", err)
	}

	return matchID, nil
}

// MatchesForClose returns all matches recorded for a closing order.
func (r *LotRepository) MatchesForClose(closeOrderID int64) ([]LotMatch, error) {
	rows, err := r.q.Query("SELECT "+matchColumns+" FROM lot_matches WHERE close_order_id = ? ORDER BY match_id", closeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get matches: %w", err)
	}
	defer rows.Close()

	var matches []LotMatch
	for rows.Next() {
		var m LotMatch
		var matchedAt int64
		if err := rows.Scan(&m.MatchID, &m.CloseOrderID, &m.LotID, &m.Qty, &m.CostBasis, &m.ClosePrice, &m.GainPct, &m.GainAmount, &matchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.MatchedAt = unixToTime(matchedAt)
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}

	return matches, nil
}

// AvgGainForClose returns the quantity-weighted average gain percentage over
// the matches of a closing order, or nil if the order has no matches.
func (r *LotRepository) AvgGainForClose(closeOrderID int64) (*float64, error) {
	var avg sql.NullFloat64
	err := r.q.QueryRow(`
		SELECT SUM(qty * gain_pct) / SUM(qty) FROM lot_matches
		WHERE close_order_id = ?
	`, closeOrderID).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("failed to get average gain: %w", err)
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

// IsCloseMatched checks if a closing order has already produced matches.
func (r *LotRepository) IsCloseMatched(closeOrderID int64) (bool, error) {
	var exists int
	err := r.q.QueryRow("SELECT 1 FROM lot_matches WHERE close_order_id = ? LIMIT 1", closeOrderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check matched state: %w", err)
	}
	return true, nil
}

// IsCloseUnmatched checks if a closing order has already been recorded as
// having found no open lots.
func (r *LotRepository) IsCloseUnmatched(closeOrderID int64) (bool, error) {
	var exists int
	err := r.q.QueryRow("SELECT 1 FROM unmatched_closes WHERE close_order_id = ? LIMIT 1", closeOrderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check unmatched state: %w", err)
	}
	return true, nil
}

// RecordUnmatchedClose records a closing order that found no open lots.
// INSERT OR IGNORE keeps the record unique per order.
func (r *LotRepository) RecordUnmatchedClose(closeOrderID int64, symbol string, qty, closePrice float64) error {
	_, err := r.q.Exec(`
		INSERT OR IGNORE INTO unmatched_closes
		(close_order_id, symbol, qty, close_price, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, closeOrderID, symbol, qty, closePrice, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to record unmatched close: %w", err)
	}
	return nil
}

// ListLots returns all lots, oldest entered first. Used for reporting.
func (r *LotRepository) ListLots() ([]CostBasisLot, error) {
	rows, err := r.q.Query("SELECT " + lotColumns + " FROM cost_basis_lots ORDER BY entered_time ASC, lot_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	defer rows.Close()

	var lots []CostBasisLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}

	return lots, nil
}

// ListMatches returns all matches, newest first. Used for reporting.
func (r *LotRepository) ListMatches(limit int) ([]LotMatch, error) {
	query := "SELECT " + matchColumns + " FROM lot_matches ORDER BY matched_at DESC, match_id DESC"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = r.q.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = r.q.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []LotMatch
	for rows.Next() {
		var m LotMatch
		var matchedAt int64
		if err := rows.Scan(&m.MatchID, &m.CloseOrderID, &m.LotID, &m.Qty, &m.CostBasis, &m.ClosePrice, &m.GainPct, &m.GainAmount, &matchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		m.MatchedAt = unixToTime(matchedAt)
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}

	return matches, nil
}

func scanLot(s scanner) (CostBasisLot, error) {
	var lot CostBasisLot
	var enteredTime, createdAt int64

	err := s.Scan(
		&lot.LotID,
		&lot.OrderID,
		&lot.Symbol,
		&lot.Underlying,
		&lot.Qty,
		&lot.RemainingQty,
		&lot.AvgCost,
		&enteredTime,
		&createdAt,
	)
	if err != nil {
		return lot, err
	}

	lot.EnteredTime = unixToTime(enteredTime)
	lot.CreatedAt = unixToTime(createdAt)

	return lot, nil
}

package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// fillColumns is the list of columns for the fills table.
// Used to avoid SELECT * which can break when the schema changes.
// Column order must match scanFill() expectations.
const fillColumns = `fill_id, order_id, symbol, underlying, asset_type, side, description, ordered_qty, filled_qty, remaining_qty, price, status, entered_time, close_time, ingested_at`

// FillRepository handles fill persistence.
type FillRepository struct {
	q   Querier
	log zerolog.Logger
}

// NewFillRepository creates a new fill repository
func NewFillRepository(q Querier, log zerolog.Logger) *FillRepository {
	return &FillRepository{
		q:   q,
		log: log.With().Str("repo", "fills").Logger(),
	}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *FillRepository) WithTx(tx *sql.Tx) *FillRepository {
	return &FillRepository{q: tx, log: r.log}
}

// Upsert inserts or refreshes a fill by its stable identity and ensures a
// posting_state row exists for it (default unposted). Re-ingesting the same
// brokerage order always yields the same stored row; only mutable fields
// (status, quantities, price, close time) are refreshed in place.
func (r *FillRepository) Upsert(fill Fill) (string, error) {
	if fill.OrderID == 0 {
		return "", fmt.Errorf("fill has no order id")
	}

	fillID := MakeFillID(fill.OrderID)
	now := time.Now().UTC()

	_, err := r.q.Exec(`
		INSERT INTO fills (
		  fill_id,
		  order_id, symbol, underlying, asset_type, side, description,
		  ordered_qty, filled_qty, remaining_qty,
		  price, status,
		  entered_time, close_time,
		  ingested_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
		  symbol = excluded.symbol,
		  underlying = excluded.underlying,
		  asset_type = excluded.asset_type,
		  side = excluded.side,
		  description = excluded.description,
		  ordered_qty = excluded.ordered_qty,
		  filled_qty = excluded.filled_qty,
		  remaining_qty = excluded.remaining_qty,
		  price = excluded.price,
		  status = excluded.status,
		  entered_time = excluded.entered_time,
		  close_time = excluded.close_time,
		  ingested_at = excluded.ingested_at
	`,
		fillID,
		fill.OrderID,
		fill.Symbol,
		fill.Underlying,
		fill.AssetType,
		fill.Side,
		nullString(fill.Description),
		fill.OrderedQty,
		fill.FilledQty,
		fill.RemainingQty,
		fill.Price,
		fill.Status,
		timeToUnix(fill.EnteredTime),
		nullTime(fill.CloseTime),
		now.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to upsert fill: %w", err)
	}

	// Every stored fill is eligible for announcement: create its posting
	// row alongside, default unposted. INSERT OR IGNORE keeps re-ingestion
	// from touching an existing row's posted flag.
	_, err = r.q.Exec(`
		INSERT OR IGNORE INTO posting_state (fill_id, posted, posted_at, external_message_id, updated_at)
		VALUES (?, 0, NULL, NULL, ?)
	`, fillID, now.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to ensure posting state: %w", err)
	}

	return fillID, nil
}

// GetByID retrieves a fill by its stable identity. Returns nil if absent.
func (r *FillRepository) GetByID(fillID string) (*Fill, error) {
	row := r.q.QueryRow("SELECT "+fillColumns+" FROM fills WHERE fill_id = ?", fillID)
	fill, err := scanFill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fill by id: %w", err)
	}
	return &fill, nil
}

// GetByOrderID retrieves a fill by brokerage order id. Returns nil if absent.
func (r *FillRepository) GetByOrderID(orderID int64) (*Fill, error) {
	row := r.q.QueryRow("SELECT "+fillColumns+" FROM fills WHERE order_id = ?", orderID)
	fill, err := scanFill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fill by order id: %w", err)
	}
	return &fill, nil
}

// TotalSold returns the total filled quantity across sell fills for a symbol.
func (r *FillRepository) TotalSold(symbol string) (int64, error) {
	var total sql.NullFloat64
	err := r.q.QueryRow(`
		SELECT SUM(filled_qty) FROM fills
		WHERE symbol = ? AND side LIKE '%SELL%'
	`, symbol).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total sold: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return int64(total.Float64), nil
}

// List returns fills ordered by entered time ascending, up to limit
// (0 = no limit). Used by the report API and the workbook exporter.
func (r *FillRepository) List(limit int) ([]Fill, error) {
	query := "SELECT " + fillColumns + " FROM fills ORDER BY entered_time ASC"
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = r.q.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = r.q.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		fill, err := scanFillFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		fills = append(fills, fill)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fills: %w", err)
	}

	return fills, nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFill(s scanner) (Fill, error) {
	var fill Fill
	var description sql.NullString
	var price sql.NullFloat64
	var enteredTime, ingestedAt int64
	var closeTime sql.NullInt64

	err := s.Scan(
		&fill.FillID,
		&fill.OrderID,
		&fill.Symbol,
		&fill.Underlying,
		&fill.AssetType,
		&fill.Side,
		&description,
		&fill.OrderedQty,
		&fill.FilledQty,
		&fill.RemainingQty,
		&price,
		&fill.Status,
		&enteredTime,
		&closeTime,
		&ingestedAt,
	)
	if err != nil {
		return fill, err
	}

	if description.Valid {
		fill.Description = description.String
	}
	if price.Valid {
		fill.Price = price.Float64
	}
	fill.EnteredTime = unixToTime(enteredTime)
	if closeTime.Valid {
		t := unixToTime(closeTime.Int64)
		fill.CloseTime = &t
	}
	fill.IngestedAt = unixToTime(ingestedAt)

	return fill, nil
}

func scanFillFromRows(rows *sql.Rows) (Fill, error) {
	return scanFill(rows)
}

// Package export renders the trade ledger as a styled Excel workbook.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"tradenotify/internal/ledger"
)

// Trade outcome classification thresholds, in gain percent.
const (
	breakevenMin = -10.0
	breakevenMax = 10.0
)

const (
	headerBgColor    = "1E3A5F"
	rowAltColor      = "F5F5F5"
	winBgColor       = "C6EFCE"
	winFontColor     = "006100"
	lossBgColor      = "FFC7CE"
	lossFontColor    = "9C0006"
	breakevenBgColor = "FFEB9C"
	breakevenFont    = "9C5700"
)

// ClassifyOutcome buckets a realized gain into WIN, LOSS or BREAKEVEN.
func ClassifyOutcome(gainPct float64) string {
	switch {
	case gainPct > breakevenMax:
		return "WIN"
	case gainPct < breakevenMin:
		return "LOSS"
	default:
		return "BREAKEVEN"
	}
}

// Exporter writes ledger snapshots to Excel workbooks.
type Exporter struct {
	fills     *ledger.FillRepository
	lots      *ledger.LotRepository
	outputDir string
	log       zerolog.Logger
}

// NewExporter creates an exporter writing workbooks under outputDir.
func NewExporter(fills *ledger.FillRepository, lots *ledger.LotRepository, outputDir string, log zerolog.Logger) *Exporter {
	return &Exporter{
		fills:     fills,
		lots:      lots,
		outputDir: outputDir,
		log:       log.With().Str("component", "exporter").Logger(),
	}
}

// Export writes the full ledger to a timestamped workbook and returns
// its path.
func (e *Exporter) Export() (string, error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	fills, err := e.fills.List(0)
	if err != nil {
		return "", fmt.Errorf("failed to load fills: %w", err)
	}
	lots, err := e.lots.ListLots()
	if err != nil {
		return "", fmt.Errorf("failed to load lots: %w", err)
	}
	matches, err := e.lots.ListMatches(0)
	if err != nil {
		return "", fmt.Errorf("failed to load matches: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	styles, err := newStyleSet(f)
	if err != nil {
		return "", fmt.Errorf("failed to build styles: %w", err)
	}

	if err := e.writeTradeLog(f, styles, fills); err != nil {
		return "", err
	}
	if err := e.writeCostBasis(f, styles, lots, matches); err != nil {
		return "", err
	}

	path := filepath.Join(e.outputDir, fmt.Sprintf("trades_%s.xlsx", time.Now().Format("2006-01-02")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}

	e.log.Info().
		Str("path", path).
		Int("fills", len(fills)).
		Int("lots", len(lots)).
		Int("matches", len(matches)).
		Msg("Exported ledger workbook")
	return path, nil
}

type styleSet struct {
	header    int
	altRow    int
	money     int
	percent   int
	win       int
	loss      int
	breakeven int
}

func newStyleSet(f *excelize.File) (*styleSet, error) {
	s := &styleSet{}
	var err error

	s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerBgColor}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return nil, err
	}

	s.altRow, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{rowAltColor}},
	})
	if err != nil {
		return nil, err
	}

	moneyFmt := "$#,##0.00"
	s.money, err = f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFmt})
	if err != nil {
		return nil, err
	}

	pctFmt := "0.00%"
	s.percent, err = f.NewStyle(&excelize.Style{CustomNumFmt: &pctFmt})
	if err != nil {
		return nil, err
	}

	s.win, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: winFontColor},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{winBgColor}},
	})
	if err != nil {
		return nil, err
	}

	s.loss, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: lossFontColor},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{lossBgColor}},
	})
	if err != nil {
		return nil, err
	}

	s.breakeven, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: breakevenFont},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{breakevenBgColor}},
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *styleSet) outcomeStyle(outcome string) int {
	switch outcome {
	case "WIN":
		return s.win
	case "LOSS":
		return s.loss
	case "BREAKEVEN":
		return s.breakeven
	default:
		return 0
	}
}

func (e *Exporter) writeTradeLog(f *excelize.File, styles *styleSet, fills []ledger.Fill) error {
	const sheet = "Trade Log"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headers := []string{
		"Date/Time", "Symbol", "Underlying", "Action", "Qty", "Filled",
		"Price", "Total Value", "P/L ($)", "P/L %", "Outcome", "Status", "Notes",
	}
	if err := writeHeaderRow(f, sheet, styles, headers); err != nil {
		return err
	}

	totalPL := 0.0
	row := 1
	for _, fill := range fills {
		row++
		if row%2 == 1 {
			_ = f.SetCellStyle(sheet, cellRef(1, row), cellRef(len(headers), row), styles.altRow)
		}

		plValue := 0.0
		var gainPct *float64
		outcome := "UNKNOWN"
		if fill.IsSell() || fill.IsClose() {
			g, err := e.lots.AvgGainForClose(fill.OrderID)
			if err != nil {
				return fmt.Errorf("failed to read gain for order %d: %w", fill.OrderID, err)
			}
			if g != nil {
				gainPct = g
				outcome = ClassifyOutcome(*g)
				matches, err := e.lots.MatchesForClose(fill.OrderID)
				if err != nil {
					return fmt.Errorf("failed to read matches for order %d: %w", fill.OrderID, err)
				}
				for _, m := range matches {
					plValue += m.GainAmount
				}
			}
		}
		totalPL += plValue

		totalValue := fill.Price * float64(fill.FilledQty) * fill.ContractMultiplier()
		values := []interface{}{
			formatTime(fill.EnteredTime), fill.Symbol, fill.Underlying, fill.Side,
			fill.OrderedQty, fill.FilledQty, fill.Price, totalValue, plValue,
		}
		for i, v := range values {
			if err := f.SetCellValue(sheet, cellRef(i+1, row), v); err != nil {
				return fmt.Errorf("failed to write cell: %w", err)
			}
		}
		_ = f.SetCellStyle(sheet, cellRef(7, row), cellRef(9, row), styles.money)

		if gainPct != nil {
			_ = f.SetCellValue(sheet, cellRef(10, row), *gainPct/100)
			_ = f.SetCellStyle(sheet, cellRef(10, row), cellRef(10, row), styles.percent)
			if st := styles.outcomeStyle(outcome); st != 0 {
				_ = f.SetCellStyle(sheet, cellRef(11, row), cellRef(11, row), st)
			}
		} else {
			_ = f.SetCellValue(sheet, cellRef(10, row), "N/A")
		}
		_ = f.SetCellValue(sheet, cellRef(11, row), outcome)
		_ = f.SetCellValue(sheet, cellRef(12, row), fill.Status)
		_ = f.SetCellValue(sheet, cellRef(13, row), fill.Description)
	}

	if len(fills) > 0 {
		row++
		_ = f.SetCellValue(sheet, cellRef(8, row), "TOTAL P/L:")
		_ = f.SetCellValue(sheet, cellRef(9, row), totalPL)
		_ = f.SetCellStyle(sheet, cellRef(9, row), cellRef(9, row), styles.money)
	}

	_ = f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
	return nil
}

func (e *Exporter) writeCostBasis(f *excelize.File, styles *styleSet, lots []ledger.CostBasisLot, matches []ledger.LotMatch) error {
	const sheet = "Cost Basis"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	lotHeaders := []string{"Lot ID", "Order ID", "Symbol", "Underlying", "Qty", "Remaining", "Avg Cost", "Entered"}
	if err := writeHeaderRow(f, sheet, styles, lotHeaders); err != nil {
		return err
	}
	row := 1
	for _, lot := range lots {
		row++
		values := []interface{}{
			lot.LotID, lot.OrderID, lot.Symbol, lot.Underlying,
			lot.Qty, lot.RemainingQty, lot.AvgCost, formatTime(lot.EnteredTime),
		}
		for i, v := range values {
			if err := f.SetCellValue(sheet, cellRef(i+1, row), v); err != nil {
				return fmt.Errorf("failed to write lot cell: %w", err)
			}
		}
		_ = f.SetCellStyle(sheet, cellRef(7, row), cellRef(7, row), styles.money)
	}

	// Matches section follows the lots after a blank row.
	row += 2
	matchHeaders := []string{"Match ID", "Close Order", "Lot ID", "Qty", "Cost Basis", "Close Price", "Gain %", "Gain ($)"}
	for i, h := range matchHeaders {
		_ = f.SetCellValue(sheet, cellRef(i+1, row), h)
		_ = f.SetCellStyle(sheet, cellRef(i+1, row), cellRef(i+1, row), styles.header)
	}
	for _, m := range matches {
		row++
		values := []interface{}{
			m.MatchID, m.CloseOrderID, m.LotID, m.Qty, m.CostBasis, m.ClosePrice, m.GainPct / 100, m.GainAmount,
		}
		for i, v := range values {
			if err := f.SetCellValue(sheet, cellRef(i+1, row), v); err != nil {
				return fmt.Errorf("failed to write match cell: %w", err)
			}
		}
		_ = f.SetCellStyle(sheet, cellRef(5, row), cellRef(6, row), styles.money)
		_ = f.SetCellStyle(sheet, cellRef(7, row), cellRef(7, row), styles.percent)
		if st := styles.outcomeStyle(ClassifyOutcome(m.GainPct)); st != 0 {
			_ = f.SetCellStyle(sheet, cellRef(8, row), cellRef(8, row), st)
		}
	}
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, styles *styleSet, headers []string) error {
	for i, h := range headers {
		ref := cellRef(i+1, 1)
		if err := f.SetCellValue(sheet, ref, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		if err := f.SetCellStyle(sheet, ref, ref, styles.header); err != nil {
			return fmt.Errorf("failed to style header: %w", err)
		}
	}
	return nil
}

func cellRef(col, row int) string {
	ref, _ := excelize.CoordinatesToCellName(col, row)
	return ref
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

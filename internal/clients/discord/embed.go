// Package discord sends trade notifications to Discord webhook channels.
package discord

import (
	"fmt"
	"time"

	"tradenotify/internal/ingest"
	"tradenotify/internal/ledger"
)

// Embed colors for the trade notification palette.
const (
	ColorTeal   = 0x1ABC9C // buys opening a position
	ColorBlue   = 0x3498DB // closes with a gain
	ColorPurple = 0x9B59B6 // closes with a loss
	ColorSlate  = 0x5865F2 // neutral fallback
	ColorCyan   = 0x00CED1 // buy-to-close without gain data
	ColorIndigo = 0x6366F1 // sells opening a position
	ColorSteel  = 0x607D8B // sells without gain data
)

// Embed is a Discord rich embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is a single name/value pair in an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the footer line of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// TradeContext carries the ledger-derived numbers shown alongside a fill.
type TradeContext struct {
	PositionLeft int64
	TotalSold    int64
	GainPct      *float64
	EntryPrice   *float64
}

// BuildTradeEmbed renders a fill as a Discord embed and returns the
// message content carrying the optional role mention.
func BuildTradeEmbed(fill ledger.Fill, tradeCtx TradeContext, roleID string) (Embed, string) {
	isBuy := fill.IsBuy()
	isOpen := fill.IsOpen()
	isClose := fill.IsClose()

	embed := Embed{
		Title:     embedTitle(fill, isBuy, isOpen, isClose),
		Color:     embedColor(isBuy, isOpen, isClose, tradeCtx.GainPct),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: "Option Bot"},
	}

	priceStr := "N/A"
	if fill.Price > 0 {
		priceStr = fmt.Sprintf("$%.2f", fill.Price)
	}

	embed.Fields = append(embed.Fields,
		EmbedField{Name: "Strike", Value: ingest.ParseStrikeDisplay(fill.Description), Inline: true},
		EmbedField{Name: "Expiration", Value: ingest.ParseExpiration(fill.Description), Inline: true},
	)

	if isBuy && !isClose {
		embed.Fields = append(embed.Fields,
			EmbedField{Name: "Entry", Value: priceStr, Inline: true},
			EmbedField{Name: "Ordered", Value: fmt.Sprintf("%d", fill.OrderedQty), Inline: true},
			EmbedField{Name: "Filled", Value: fmt.Sprintf("%d", fill.FilledQty), Inline: true},
			EmbedField{Name: "Owned", Value: fmt.Sprintf("%d", tradeCtx.PositionLeft), Inline: true},
		)
	} else {
		embed.Fields = append(embed.Fields,
			EmbedField{Name: "Exit", Value: priceStr, Inline: true},
			EmbedField{Name: "Sold", Value: fmt.Sprintf("%d", fill.OrderedQty), Inline: true},
			EmbedField{Name: "Filled", Value: fmt.Sprintf("%d", fill.FilledQty), Inline: true},
			EmbedField{Name: "Remaining", Value: fmt.Sprintf("%d", tradeCtx.PositionLeft), Inline: true},
		)
		if tradeCtx.GainPct != nil {
			embed.Fields = append(embed.Fields, EmbedField{
				Name:   "Gain",
				Value:  formatGain(*tradeCtx.GainPct),
				Inline: true,
			})
		}
	}

	content := ""
	if roleID != "" {
		content = fmt.Sprintf("<@&%s>", roleID)
	}
	return embed, content
}

func embedTitle(fill ledger.Fill, isBuy, isOpen, isClose bool) string {
	action := "SELL"
	if isBuy {
		action = "BUY"
	}
	underlying := fill.Underlying
	if underlying == "" {
		underlying = fill.Symbol
	}
	switch {
	case isOpen:
		return fmt.Sprintf("%s TO OPEN: %s", action, underlying)
	case isClose:
		return fmt.Sprintf("%s TO CLOSE: %s", action, underlying)
	default:
		return fmt.Sprintf("%s: %s", action, underlying)
	}
}

func embedColor(isBuy, isOpen, isClose bool, gainPct *float64) int {
	if isOpen {
		if isBuy {
			return ColorTeal
		}
		return ColorIndigo
	}
	if gainPct != nil {
		if *gainPct >= 0 {
			return ColorBlue
		}
		return ColorPurple
	}
	if isClose && isBuy {
		return ColorCyan
	}
	if !isBuy {
		return ColorSteel
	}
	return ColorSlate
}

func formatGain(gainPct float64) string {
	if gainPct >= 0 {
		return fmt.Sprintf("+%.2f%%", gainPct)
	}
	return fmt.Sprintf("%.2f%%", gainPct)
}

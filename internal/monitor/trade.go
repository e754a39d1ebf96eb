// internal/monitor/trade.go
package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the record of a closed position.
type Trade struct {
	PositionID string          `json:"positionId"`
	Token      string          `json:"token"`
	Symbol     string          `json:"symbol"`
	Amount     decimal.Decimal `json:"amount"`
	EntryTime  time.Time       `json:"entryTime"`
	ClosedAt   time.Time       `json:"closedAt"`
	Status     Status          `json:"status"`
	Profit     decimal.Decimal `json:"profit"`
	HoldTime   string          `json:"holdTime"`
}

// Win reports whether the trade closed at a profit.
func (t Trade) Win() bool {
	return t.Status == ClosedProfit
}

// CSVHeader lists the columns produced by ToCSV.
func CSVHeader() []string {
	return []string{"position_id", "token", "symbol", "amount", "entry_time", "closed_at", "status", "profit", "hold_time"}
}

func (t Trade) ToCSV() []string {
	return []string{
		t.PositionID,
		t.Token,
		t.Symbol,
		t.Amount.StringFixed(3),
		t.EntryTime.Format(time.RFC3339),
		t.ClosedAt.Format(time.RFC3339),
		t.Status.String(),
		t.Profit.StringFixed(6),
		t.HoldTime,
	}
}

func tradeFrom(p Position) Trade {
	return Trade{
		PositionID: p.ID,
		Token:      p.Token,
		Symbol:     p.Symbol,
		Amount:     p.Amount,
		EntryTime:  p.EntryTime,
		ClosedAt:   p.ClosedAt,
		Status:     p.Status,
		Profit:     p.Profit,
		HoldTime:   p.Held(p.ClosedAt).Round(time.Second).String(),
	}
}

// internal/monitor/stats.go
package monitor

import (
	"math"

	"github.com/shopspring/decimal"
)

type Stats struct {
	TotalProfit     decimal.Decimal `json:"totalProfit"`
	WinRate         int             `json:"winRate"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	ActivePositions int             `json:"activePositions"`
}

// Compute derives dashboard stats from c. It has no side effects.
func Compute(c Counters) Stats {
	s := Stats{
		TotalProfit:     c.TotalProfit,
		Wins:            c.WinningTrades,
		Losses:          c.TotalTrades - c.WinningTrades,
		ActivePositions: c.ActivePositions,
	}
	if c.TotalTrades > 0 {
		s.WinRate = int(math.Round(100 * float64(c.WinningTrades) / float64(c.TotalTrades)))
	}
	return s
}

// Invested is the capital tied up in open positions of size each.
func Invested(c Counters, size decimal.Decimal) decimal.Decimal {
	return size.Mul(decimal.NewFromInt(int64(c.ActivePositions)))
}

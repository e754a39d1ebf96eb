// internal/monitor/position.go
package monitor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status int

const (
	Open Status = iota
	ClosedProfit
	ClosedStop
)

func (s Status) String() string {
	switch s {
	case Open:
		return "OPEN"
	case ClosedProfit:
		return "CLOSED_PROFIT"
	case ClosedStop:
		return "CLOSED_STOP"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Status) Terminal() bool {
	return s == ClosedProfit || s == ClosedStop
}

// Position is one simulated holding. The monitoring goroutine owns the live
// value; the ledger only ever hands out copies.
type Position struct {
	ID        string          `json:"id"`
	Token     string          `json:"token"`
	Symbol    string          `json:"symbol"`
	EntryTime time.Time       `json:"entryTime"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	ClosedAt  time.Time       `json:"closedAt"`
	Profit    decimal.Decimal `json:"profit"`
}

// Held reports how long the position has been (or was) open at now.
func (p Position) Held(now time.Time) time.Duration {
	if p.Status.Terminal() && !p.ClosedAt.IsZero() {
		return p.ClosedAt.Sub(p.EntryTime)
	}
	return now.Sub(p.EntryTime)
}

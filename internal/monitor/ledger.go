// internal/monitor/ledger.go

// Package monitor tracks simulated positions and the aggregate trading
// counters derived from them.
package monitor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrAlreadyActive = errors.New("token already has an open position")
	ErrLimitReached  = errors.New("open position limit reached")
	ErrUnknown       = errors.New("unknown position")
)

// Counters are the shared trading totals.
type Counters struct {
	TotalTrades     int             `json:"totalTrades"`
	WinningTrades   int             `json:"winningTrades"`
	TotalProfit     decimal.Decimal `json:"totalProfit"`
	ActivePositions int             `json:"activePositions"`
}

// Ledger holds the active set and the counters under one mutex so that
// ActivePositions always equals the number of open positions.
type Ledger struct {
	mu       sync.Mutex
	active   map[string]Position
	byToken  map[string]string
	closed   []Trade
	counters Counters
	keep     int
}

// NewLedger keeps at most keep closed trades for export; keep <= 0 keeps all.
func NewLedger(keep int) *Ledger {
	return &Ledger{
		active:  make(map[string]Position),
		byToken: make(map[string]string),
		keep:    keep,
	}
}

// Open adds p to the active set. limit <= 0 disables the cap.
func (l *Ledger) Open(p Position, limit int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byToken[p.Token]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, p.Token)
	}
	if limit > 0 && len(l.active) >= limit {
		return ErrLimitReached
	}

	p.Status = Open
	l.active[p.ID] = p
	l.byToken[p.Token] = p.ID
	l.counters.ActivePositions = len(l.active)
	return nil
}

// Close moves a position to a terminal status and books it.
func (l *Ledger) Close(id string, status Status, profit decimal.Decimal, at time.Time) (Trade, error) {
	if !status.Terminal() {
		return Trade{}, fmt.Errorf("close with non-terminal status %s", status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.active[id]
	if !ok {
		return Trade{}, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	delete(l.active, id)
	delete(l.byToken, p.Token)

	p.Status = status
	p.ClosedAt = at
	p.Profit = profit

	l.counters.TotalTrades++
	if status == ClosedProfit {
		l.counters.WinningTrades++
		l.counters.TotalProfit = l.counters.TotalProfit.Add(profit)
	}
	l.counters.ActivePositions = len(l.active)

	trade := tradeFrom(p)
	l.closed = append(l.closed, trade)
	if l.keep > 0 && len(l.closed) > l.keep {
		l.closed = l.closed[len(l.closed)-l.keep:]
	}
	return trade, nil
}

func (l *Ledger) IsActive(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byToken[token]
	return ok
}

func (l *Ledger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Positions returns the open positions, oldest first.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	out := make([]Position, 0, len(l.active))
	for _, p := range l.active {
		out = append(out, p)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Closed returns the retained closed trades in closing order.
func (l *Ledger) Closed() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Trade(nil), l.closed...)
}

func (l *Ledger) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters
}

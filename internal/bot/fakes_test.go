package bot

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/toxi-relay/internal/market"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
)

type order struct {
	Token    string
	Amount   decimal.Decimal
	Slippage float64
	Percent  int
}

type fakeExecutor struct {
	mu      sync.Mutex
	buys    []order
	sells   []order
	buyErr  error
	sellErr error
}

func (f *fakeExecutor) Buy(_ context.Context, token string, amount decimal.Decimal, slippage float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buyErr != nil {
		return f.buyErr
	}
	f.buys = append(f.buys, order{Token: token, Amount: amount, Slippage: slippage})
	return nil
}

func (f *fakeExecutor) Sell(_ context.Context, token string, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sellErr != nil {
		return f.sellErr
	}
	f.sells = append(f.sells, order{Token: token, Percent: percent})
	return nil
}

func (f *fakeExecutor) setSellErr(err error) {
	f.mu.Lock()
	f.sellErr = err
	f.mu.Unlock()
}

func (f *fakeExecutor) Buys() []order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order(nil), f.buys...)
}

func (f *fakeExecutor) Sells() []order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order(nil), f.sells...)
}

// fakeSignal answers with fixed candidates and fixed exit decisions.
type fakeSignal struct {
	mu         sync.Mutex
	candidates []market.Candidate
	err        error
	gain       decimal.Decimal
	profit     bool
	stop       bool
	scans      int
}

func (f *fakeSignal) Candidates(ctx context.Context) ([]market.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	if f.err != nil {
		return nil, f.err
	}
	return append([]market.Candidate(nil), f.candidates...), nil
}

func (f *fakeSignal) TakeProfit(monitor.Position, time.Duration) (decimal.Decimal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain, f.profit
}

func (f *fakeSignal) StopLoss(monitor.Position, time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stop
}

func (f *fakeSignal) Scans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

var _ market.Signal = (*fakeSignal)(nil)

const (
	mintA = "So11111111111111111111111111111111111111112"
	mintB = "EPjFWdd5AufqSSqeM5qu1DxGBjA2rxPK5mEeBQFkB1qz"
)

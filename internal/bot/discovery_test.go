// internal/bot/discovery_test.go
package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/toxi-relay/internal/market"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
)

var scanTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func defaultDiscovery() DiscoveryConfig {
	return DiscoveryConfig{
		ScanInterval: 2 * time.Minute,
		RetryInitial: 30 * time.Second,
		RetryMax:     5 * time.Minute,
		MinLiquidity: 5000,
		MaxTokenAge:  60 * time.Minute,
		MaxPositions: 5,
		PositionSize: decimal.RequireFromString("0.05"),
		Slippage:     0.15,
	}
}

func candidate(token, symbol string, liquidity float64, age time.Duration) market.Candidate {
	return market.Candidate{
		Token:     token,
		Symbol:    symbol,
		Liquidity: liquidity,
		CreatedAt: scanTime.Add(-age),
		Score:     0.5,
	}
}

type spawned struct {
	mu  sync.Mutex
	got []monitor.Position
}

func (s *spawned) spawn(p monitor.Position) {
	s.mu.Lock()
	s.got = append(s.got, p)
	s.mu.Unlock()
}

func (s *spawned) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func newDiscoverer(t *testing.T, cfg DiscoveryConfig, signal *fakeSignal, exec *fakeExecutor) (*Discoverer, *monitor.Ledger, *spawned) {
	t.Helper()
	ledger := monitor.NewLedger(0)
	sp := &spawned{}
	d := NewDiscoverer(cfg, signal, exec, ledger, nil, zaptest.NewLogger(t), sp.spawn)
	d.now = func() time.Time { return scanTime }
	return d, ledger, sp
}

func TestRejection(t *testing.T) {
	d, ledger, _ := newDiscoverer(t, defaultDiscovery(), &fakeSignal{}, &fakeExecutor{})

	tests := []struct {
		name string
		c    market.Candidate
		want string
	}{
		{"accepted", candidate(mintA, "A", 6000, 10*time.Minute), ""},
		{"liquidity boundary", candidate(mintA, "A", 5000, 10*time.Minute), ""},
		{"low liquidity", candidate(mintA, "A", 4999, 10*time.Minute), "low liquidity"},
		{"age boundary", candidate(mintA, "A", 6000, 60*time.Minute), ""},
		{"too old", candidate(mintA, "A", 6000, 61*time.Minute), "too old"},
		{"invalid mint", candidate("not-a-mint", "A", 6000, time.Minute), "invalid mint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Rejection(tt.c, scanTime))
		})
	}

	require.NoError(t, ledger.Open(monitor.Position{ID: "x", Token: mintA, EntryTime: scanTime}, 0))
	assert.Equal(t, "already held", d.Rejection(candidate(mintA, "A", 6000, time.Minute), scanTime))
	assert.True(t, d.ShouldBuy(candidate(mintB, "B", 6000, time.Minute), scanTime))
}

func TestRejectionMinScore(t *testing.T) {
	cfg := defaultDiscovery()
	cfg.MinScore = 0.6
	d, _, _ := newDiscoverer(t, cfg, &fakeSignal{}, &fakeExecutor{})

	assert.Equal(t, "low score", d.Rejection(candidate(mintA, "A", 6000, time.Minute), scanTime))
}

func TestScanBuysFirstAcceptedCandidateOnly(t *testing.T) {
	signal := &fakeSignal{candidates: []market.Candidate{
		candidate(mintA, "OLD", 9000, 2*time.Hour),
		candidate(mintB, "NEW", 9000, 5*time.Minute),
		candidate("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", "ALSO", 9000, 5*time.Minute),
	}}
	exec := &fakeExecutor{}
	d, ledger, sp := newDiscoverer(t, defaultDiscovery(), signal, exec)

	pos, err := d.Scan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, "NEW", pos.Symbol)
	assert.Equal(t, monitor.Open, pos.Status)
	assert.Equal(t, scanTime, pos.EntryTime)
	assert.NotEmpty(t, pos.ID)

	buys := exec.Buys()
	require.Len(t, buys, 1)
	assert.Equal(t, mintB, buys[0].Token)
	assert.True(t, buys[0].Amount.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 0.15, buys[0].Slippage)

	assert.Equal(t, 1, ledger.ActiveCount())
	assert.True(t, ledger.IsActive(mintB))
	assert.Equal(t, 1, sp.Len())
}

func TestScanSkipsHeldToken(t *testing.T) {
	signal := &fakeSignal{candidates: []market.Candidate{candidate(mintA, "A", 9000, time.Minute)}}
	exec := &fakeExecutor{}
	d, _, _ := newDiscoverer(t, defaultDiscovery(), signal, exec)

	_, err := d.Scan(context.Background())
	require.NoError(t, err)
	pos, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Len(t, exec.Buys(), 1)
}

func TestScanRespectsPositionCap(t *testing.T) {
	cfg := defaultDiscovery()
	cfg.MaxPositions = 1
	signal := &fakeSignal{candidates: []market.Candidate{candidate(mintB, "B", 9000, time.Minute)}}
	exec := &fakeExecutor{}
	d, ledger, _ := newDiscoverer(t, cfg, signal, exec)
	require.NoError(t, ledger.Open(monitor.Position{ID: "x", Token: mintA, EntryTime: scanTime}, 0))

	pos, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Empty(t, exec.Buys())
	assert.Zero(t, signal.Scans(), "a full book skips the market query")
}

func TestScanBuyFailureOpensNothing(t *testing.T) {
	signal := &fakeSignal{candidates: []market.Candidate{candidate(mintA, "A", 9000, time.Minute)}}
	exec := &fakeExecutor{buyErr: errors.New("peer not connected")}
	d, ledger, sp := newDiscoverer(t, defaultDiscovery(), signal, exec)

	pos, err := d.Scan(context.Background())
	assert.Error(t, err)
	assert.Nil(t, pos)
	assert.Zero(t, ledger.ActiveCount())
	assert.Zero(t, sp.Len())
}

func TestScanCandidateError(t *testing.T) {
	signal := &fakeSignal{err: errors.New("feed down")}
	d, _, _ := newDiscoverer(t, defaultDiscovery(), signal, &fakeExecutor{})

	_, err := d.Scan(context.Background())
	assert.ErrorContains(t, err, "feed down")
}

func TestRunScansUntilCancelled(t *testing.T) {
	cfg := defaultDiscovery()
	cfg.ScanInterval = time.Millisecond
	cfg.RetryInitial = time.Millisecond
	cfg.RetryMax = 2 * time.Millisecond
	signal := &fakeSignal{err: errors.New("feed down")}
	d, _, _ := newDiscoverer(t, cfg, signal, &fakeExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return signal.Scans() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("discovery did not stop")
	}
}

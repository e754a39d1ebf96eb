package market

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
)

const wrappedSOL = "So11111111111111111111111111111111111111112"

func TestValidMint(t *testing.T) {
	assert.True(t, ValidMint(wrappedSOL))
	assert.False(t, ValidMint(""))
	assert.False(t, ValidMint("not-a-mint"))
	assert.False(t, ValidMint("0OIl"))
}

func TestScore(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		c    Candidate
		want float64
	}{
		{"deep young meme", Candidate{Liquidity: 60000, CreatedAt: now.Add(-5 * time.Minute), Symbol: "PEPE"}, 0.8},
		{"mid", Candidate{Liquidity: 30000, CreatedAt: now.Add(-20 * time.Minute), Name: "Plain"}, 0.4},
		{"shallow old", Candidate{Liquidity: 6000, CreatedAt: now.Add(-2 * time.Hour)}, 0},
		{"name match", Candidate{Liquidity: 11000, CreatedAt: now.Add(-45 * time.Minute), Name: "To The Moon"}, 0.4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Score(tc.c, now), 1e-9)
		})
	}
}

func TestSimulatorCandidates(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{BatchSize: 12, Seed: 7, ProfitProbability: 0.5, MinGain: 1.2, MaxGain: 3}, zaptest.NewLogger(t))

	got, err := sim.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 12)

	for i, c := range got {
		assert.True(t, ValidMint(c.Token), c.Token)
		assert.GreaterOrEqual(t, c.Liquidity, 1000.0)
		assert.LessOrEqual(t, c.Age(time.Now()), 91*time.Minute)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Score, c.Score)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Candidates(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimulatorDeterministic(t *testing.T) {
	cfg := SimulatorConfig{BatchSize: 5, Seed: 42, ProfitProbability: 0.5, StopProbability: 0.5, MinGain: 1.2, MaxGain: 3}
	a := NewSimulator(cfg, zaptest.NewLogger(t))
	b := NewSimulator(cfg, zaptest.NewLogger(t))

	p := monitor.Position{Amount: decimal.RequireFromString("0.05")}
	for i := 0; i < 20; i++ {
		ga, oka := a.TakeProfit(p, time.Hour)
		gb, okb := b.TakeProfit(p, time.Hour)
		assert.Equal(t, oka, okb)
		assert.True(t, ga.Equal(gb))
		if oka {
			f, _ := ga.Float64()
			assert.GreaterOrEqual(t, f, 1.2)
			assert.LessOrEqual(t, f, 3.0)
		}
		assert.Equal(t, a.StopLoss(p, time.Hour), b.StopLoss(p, time.Hour))
	}
}

func TestSimulatorProbabilityBounds(t *testing.T) {
	never := NewSimulator(SimulatorConfig{Seed: 1, MinGain: 1, MaxGain: 1}, zaptest.NewLogger(t))
	always := NewSimulator(SimulatorConfig{Seed: 1, ProfitProbability: 1, StopProbability: 1, MinGain: 2, MaxGain: 2}, zaptest.NewLogger(t))

	for i := 0; i < 50; i++ {
		_, ok := never.TakeProfit(monitor.Position{}, 0)
		assert.False(t, ok)
		assert.False(t, never.StopLoss(monitor.Position{}, 0))

		gain, ok := always.TakeProfit(monitor.Position{}, 0)
		assert.True(t, ok)
		assert.Equal(t, "2", gain.String())
		assert.True(t, always.StopLoss(monitor.Position{}, 0))
	}
}

func TestLoadUniverse(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "tokens.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
tokens:
  - symbol: WSOL
    name: Wrapped SOL
    mint: `+wrappedSOL+`
  - symbol: PEPE
    name: Pepe
`), 0o644))

	listings, err := LoadUniverse(good)
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, wrappedSOL, listings[0].Mint)

	sim := NewSimulator(SimulatorConfig{BatchSize: 10, Seed: 3, Universe: listings}, zaptest.NewLogger(t))
	got, err := sim.Candidates(context.Background())
	require.NoError(t, err)
	for _, c := range got {
		assert.Contains(t, []string{"WSOL", "PEPE"}, c.Symbol)
		if c.Symbol == "WSOL" {
			assert.Equal(t, wrappedSOL, c.Token)
		}
	}

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tokens:\n  - symbol: X\n    mint: nope\n"), 0o644))
	_, err = LoadUniverse(bad)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("tokens: []\n"), 0o644))
	_, err = LoadUniverse(empty)
	assert.Error(t, err)

	_, err = LoadUniverse(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

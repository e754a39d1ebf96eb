// internal/market/simulator.go
package market

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
)

type SimulatorConfig struct {
	BatchSize         int
	ProfitProbability float64
	StopProbability   float64
	MinGain           float64
	MaxGain           float64
	// Seed fixes the random sequence; zero seeds from the clock.
	Seed     uint64
	Universe []Listing
}

// Simulator is a Signal driven by a seeded random source.
type Simulator struct {
	cfg    SimulatorConfig
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if len(cfg.Universe) == 0 {
		cfg.Universe = defaultUniverse
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Simulator{
		cfg:    cfg,
		logger: logger.Named("market"),
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Simulator) Candidates(ctx context.Context) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	out := make([]Candidate, 0, s.cfg.BatchSize)
	for i := 0; i < s.cfg.BatchSize; i++ {
		listing := s.cfg.Universe[s.rng.IntN(len(s.cfg.Universe))]
		c := Candidate{
			Token:     listing.Mint,
			Symbol:    listing.Symbol,
			Name:      listing.Name,
			Liquidity: 1000 + s.rng.Float64()*99000,
			CreatedAt: now.Add(-time.Duration(s.rng.Int64N(int64(90 * time.Minute)))),
		}
		if c.Token == "" {
			c.Token = s.randomMint().String()
		}
		c.Score = Score(c, now)
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	s.logger.Debug("Generated candidates", zap.Int("count", len(out)))
	return out, nil
}

func (s *Simulator) TakeProfit(p monitor.Position, elapsed time.Duration) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() >= s.cfg.ProfitProbability {
		return decimal.Zero, false
	}
	gain := s.cfg.MinGain + s.rng.Float64()*(s.cfg.MaxGain-s.cfg.MinGain)
	return decimal.NewFromFloat(gain).Round(4), true
}

func (s *Simulator) StopLoss(p monitor.Position, elapsed time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.cfg.StopProbability
}

// randomMint draws a fresh public key. Callers hold mu.
func (s *Simulator) randomMint() solana.PublicKey {
	var b [32]byte
	for i := 0; i < len(b); i += 8 {
		v := s.rng.Uint64()
		for j := 0; j < 8; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	return solana.PublicKeyFromBytes(b[:])
}

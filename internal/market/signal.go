// internal/market/signal.go

// Package market isolates the randomness that stands in for a real market:
// token discovery and the take-profit and stop-loss decisions.
package market

import (
	"context"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
)

// Candidate is a freshly listed token offered by discovery.
type Candidate struct {
	Token     string    `json:"token"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Liquidity float64   `json:"liquidity"`
	CreatedAt time.Time `json:"createdAt"`
	Score     float64   `json:"score"`
}

func (c Candidate) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}

// Signal is the market seen by the bot.
type Signal interface {
	// Candidates returns newly listed tokens, best first.
	Candidates(ctx context.Context) ([]Candidate, error)
	// TakeProfit decides whether p should be sold at a profit now and, if
	// so, the gain factor applied to the sold amount.
	TakeProfit(p monitor.Position, elapsed time.Duration) (decimal.Decimal, bool)
	StopLoss(p monitor.Position, elapsed time.Duration) bool
}

// ValidMint reports whether s is a base58 encoded 32-byte public key.
func ValidMint(s string) bool {
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}

var memeWords = []string{"elon", "doge", "moon", "mars", "pepe", "maga", "trump"}

// Score rates a candidate between 0 and 1: deeper liquidity, younger age
// and meme names all add to it.
func Score(c Candidate, now time.Time) float64 {
	var score float64

	switch {
	case c.Liquidity > 50000:
		score += 0.3
	case c.Liquidity > 25000:
		score += 0.2
	case c.Liquidity > 10000:
		score += 0.1
	}

	switch age := c.Age(now); {
	case age < 10*time.Minute:
		score += 0.3
	case age < 30*time.Minute:
		score += 0.2
	case age < time.Hour:
		score += 0.1
	}

	name, symbol := strings.ToLower(c.Name), strings.ToLower(c.Symbol)
	for _, w := range memeWords {
		if strings.Contains(name, w) || strings.Contains(symbol, w) {
			score += 0.2
			break
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// internal/bot/discovery.go
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/market"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
	"github.com/rovshanmuradov/toxi-relay/internal/relay"
)

type DiscoveryConfig struct {
	ScanInterval time.Duration
	RetryInitial time.Duration
	RetryMax     time.Duration
	MinLiquidity float64
	MinScore     float64
	MaxTokenAge  time.Duration
	MaxPositions int
	PositionSize decimal.Decimal
	Slippage     float64
}

// Discoverer scans the market for candidates and opens at most one position
// per scan.
type Discoverer struct {
	cfg    DiscoveryConfig
	signal market.Signal
	exec   relay.Executor
	ledger *monitor.Ledger
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
	// spawn starts monitoring of a freshly opened position.
	spawn func(monitor.Position)
}

func NewDiscoverer(cfg DiscoveryConfig, signal market.Signal, exec relay.Executor, ledger *monitor.Ledger,
	bus *events.Bus, logger *zap.Logger, spawn func(monitor.Position)) *Discoverer {
	return &Discoverer{
		cfg:    cfg,
		signal: signal,
		exec:   exec,
		ledger: ledger,
		bus:    bus,
		logger: logger.Named("discovery"),
		now:    time.Now,
		spawn:  spawn,
	}
}

// Rejection names the first acceptance rule a candidate fails, or is empty.
func (d *Discoverer) Rejection(c market.Candidate, now time.Time) string {
	switch {
	case c.Liquidity < d.cfg.MinLiquidity:
		return "low liquidity"
	case c.Age(now) > d.cfg.MaxTokenAge:
		return "too old"
	case c.Score < d.cfg.MinScore:
		return "low score"
	case !market.ValidMint(c.Token):
		return "invalid mint"
	case d.ledger.IsActive(c.Token):
		return "already held"
	case d.cfg.MaxPositions > 0 && d.ledger.ActiveCount() >= d.cfg.MaxPositions:
		return "position limit"
	default:
		return ""
	}
}

func (d *Discoverer) ShouldBuy(c market.Candidate, now time.Time) bool {
	return d.Rejection(c, now) == ""
}

// Scan runs one discovery pass. It returns the opened position, or nil when
// nothing was bought.
func (d *Discoverer) Scan(ctx context.Context) (*monitor.Position, error) {
	if d.cfg.MaxPositions > 0 && d.ledger.ActiveCount() >= d.cfg.MaxPositions {
		d.logger.Debug("Position limit reached, skipping scan", zap.Int("active", d.ledger.ActiveCount()))
		return nil, nil
	}

	candidates, err := d.signal.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	now := d.now()
	for _, c := range candidates {
		if reason := d.Rejection(c, now); reason != "" {
			d.logger.Debug("Candidate rejected", zap.String("symbol", c.Symbol), zap.String("reason", reason))
			continue
		}

		d.logger.Info("Candidate accepted",
			zap.String("symbol", c.Symbol),
			zap.String("token", c.Token),
			zap.Float64("liquidity", c.Liquidity),
			zap.Float64("score", c.Score))

		if err := d.exec.Buy(ctx, c.Token, d.cfg.PositionSize, d.cfg.Slippage); err != nil {
			return nil, fmt.Errorf("buy %s: %w", c.Symbol, err)
		}

		pos := monitor.Position{
			ID:        uuid.NewString(),
			Token:     c.Token,
			Symbol:    c.Symbol,
			EntryTime: d.now(),
			Amount:    d.cfg.PositionSize,
			Status:    monitor.Open,
		}
		if err := d.ledger.Open(pos, d.cfg.MaxPositions); err != nil {
			return nil, fmt.Errorf("open position %s: %w", c.Symbol, err)
		}
		if d.bus != nil {
			_ = d.bus.Publish(events.PositionOpenedEvent{
				BaseEvent:  events.NewBase(events.PositionOpened),
				PositionID: pos.ID,
				Token:      pos.Token,
				Symbol:     pos.Symbol,
				Amount:     pos.Amount,
			})
		}
		if d.spawn != nil {
			d.spawn(pos)
		}
		return &pos, nil
	}
	return nil, nil
}

// Run scans every ScanInterval until ctx is done. Failed scans are retried
// with exponential backoff.
func (d *Discoverer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInitial
	b.MaxInterval = d.cfg.RetryMax

	for {
		wait := d.cfg.ScanInterval
		if _, err := d.Scan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = b.NextBackOff()
			d.logger.Warn("Scan failed", zap.Error(err), zap.Duration("retry_in", wait))
		} else {
			b.Reset()
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

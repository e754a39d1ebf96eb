// internal/bot/position.go
package bot

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/market"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
	"github.com/rovshanmuradov/toxi-relay/internal/relay"
)

// LifecycleConfig governs how an open position is watched and exited.
type LifecycleConfig struct {
	MonitorInterval time.Duration
	TakeProfitAfter time.Duration
	HardTimeout     time.Duration
	// SellPercent is the share sold on take profit; stops always sell all.
	SellPercent int
}

// PositionWorker owns one open position until it closes.
type PositionWorker struct {
	pos    monitor.Position
	cfg    LifecycleConfig
	ledger *monitor.Ledger
	exec   relay.Executor
	signal market.Signal
	bus    *events.Bus
	logger *zap.Logger
	now    func() time.Time
}

func NewPositionWorker(pos monitor.Position, cfg LifecycleConfig, ledger *monitor.Ledger,
	exec relay.Executor, signal market.Signal, bus *events.Bus, logger *zap.Logger) *PositionWorker {
	return &PositionWorker{
		pos:    pos,
		cfg:    cfg,
		ledger: ledger,
		exec:   exec,
		signal: signal,
		bus:    bus,
		logger: logger.Named("position").With(zap.String("position_id", pos.ID), zap.String("symbol", pos.Symbol)),
		now:    time.Now,
	}
}

// Run evaluates the position on every tick until it closes or ctx is done.
// A cancelled position stays open in the ledger.
func (w *PositionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Monitoring stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if w.Evaluate(ctx) {
				return
			}
		}
	}
}

// Evaluate runs one lifecycle step and reports whether the position closed.
func (w *PositionWorker) Evaluate(ctx context.Context) bool {
	elapsed := w.now().Sub(w.pos.EntryTime)

	if elapsed >= w.cfg.HardTimeout {
		w.logger.Info("Hard timeout reached", zap.Duration("held", elapsed))
		return w.exit(ctx, 100, monitor.ClosedStop, decimal.Zero)
	}

	if elapsed >= w.cfg.TakeProfitAfter {
		if gain, ok := w.signal.TakeProfit(w.pos, elapsed); ok {
			profit := w.pos.Amount.
				Mul(decimal.NewFromInt(int64(w.cfg.SellPercent))).
				Div(decimal.NewFromInt(100)).
				Mul(gain)
			w.logger.Info("Take profit signal", zap.String("gain", gain.String()), zap.String("profit", profit.String()))
			return w.exit(ctx, w.cfg.SellPercent, monitor.ClosedProfit, profit)
		}
	}

	if w.signal.StopLoss(w.pos, elapsed) {
		w.logger.Info("Stop loss signal", zap.Duration("held", elapsed))
		return w.exit(ctx, 100, monitor.ClosedStop, decimal.Zero)
	}
	return false
}

func (w *PositionWorker) exit(ctx context.Context, percent int, status monitor.Status, profit decimal.Decimal) bool {
	if err := w.exec.Sell(ctx, w.pos.Token, percent); err != nil {
		w.logger.Warn("Sell not relayed, retrying next tick", zap.Int("percent", percent), zap.Error(err))
		return false
	}

	trade, err := w.ledger.Close(w.pos.ID, status, profit, w.now())
	if err != nil {
		w.logger.Error("Failed to book closed position", zap.Error(err))
		return true
	}

	w.logger.Info("Position closed",
		zap.Stringer("status", status),
		zap.String("profit", profit.String()),
		zap.String("held", trade.HoldTime))
	if w.bus != nil {
		_ = w.bus.Publish(events.PositionClosedEvent{
			BaseEvent:  events.NewBase(events.PositionClosed),
			PositionID: trade.PositionID,
			Token:      trade.Token,
			Symbol:     trade.Symbol,
			Status:     status.String(),
			Profit:     profit,
			Held:       trade.ClosedAt.Sub(trade.EntryTime),
		})
	}
	return true
}

// internal/relay/dryrun.go
package relay

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DryRun accepts every command without contacting the peer.
type DryRun struct {
	logger *zap.Logger
}

var _ Executor = (*DryRun)(nil)

func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{logger: logger.Named("dry_run")}
}

func (d *DryRun) Buy(ctx context.Context, token string, amount decimal.Decimal, slippage float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info("Would send", zap.String("command", BuyCommand(token, amount, slippage)))
	return nil
}

func (d *DryRun) Sell(ctx context.Context, token string, percent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info("Would send", zap.String("command", SellCommand(token, percent)))
	return nil
}

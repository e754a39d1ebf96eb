// internal/bot/engine_test.go
package bot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/market"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
	"github.com/rovshanmuradov/toxi-relay/internal/relay"
)

func fastEngineConfig() EngineConfig {
	return EngineConfig{
		DryRun:         true,
		HealthInterval: 5 * time.Millisecond,
		Lifecycle: LifecycleConfig{
			MonitorInterval: time.Millisecond,
			TakeProfitAfter: 0,
			HardTimeout:     time.Hour,
			SellPercent:     80,
		},
		Discovery: DiscoveryConfig{
			ScanInterval: time.Millisecond,
			RetryInitial: time.Millisecond,
			RetryMax:     5 * time.Millisecond,
			MinLiquidity: 5000,
			MaxTokenAge:  time.Hour,
			MaxPositions: 5,
			PositionSize: decimal.RequireFromString("0.05"),
			Slippage:     0.15,
		},
	}
}

func newEngine(t *testing.T, signal *fakeSignal, exec *fakeExecutor) (*Engine, *monitor.Ledger) {
	t.Helper()
	log := zaptest.NewLogger(t)
	ledger := monitor.NewLedger(0)
	rel := relay.New(relay.Config{RetryInitial: time.Millisecond, RetryMax: 5 * time.Millisecond}, log, nil)
	return NewEngine(fastEngineConfig(), rel, exec, signal, ledger, nil, log), ledger
}

func TestEngineTradesUntilStopped(t *testing.T) {
	signal := &fakeSignal{
		candidates: []market.Candidate{{
			Token: mintA, Symbol: "WSOL", Liquidity: 9000, CreatedAt: time.Now(), Score: 0.5,
		}},
		profit: true,
		gain:   decimal.NewFromInt(2),
	}
	exec := &fakeExecutor{}
	e, ledger := newEngine(t, signal, exec)

	assert.False(t, e.Running())
	assert.True(t, e.StartedAt().IsZero())
	assert.Equal(t, "DRY-RUN", e.Mode())

	e.Start(context.Background())
	e.Start(context.Background())
	require.True(t, e.Running())
	assert.False(t, e.StartedAt().IsZero())

	require.Eventually(t, func() bool { return ledger.Counters().TotalTrades >= 2 }, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	assert.False(t, e.Running())

	c := ledger.Counters()
	assert.Equal(t, c.TotalTrades, c.WinningTrades)
	assert.LessOrEqual(t, c.ActivePositions, 1)
	assert.NotEmpty(t, exec.Buys())
	for _, s := range exec.Sells() {
		assert.Equal(t, 80, s.Percent)
	}
}

func TestEngineStopWithoutStart(t *testing.T) {
	e, _ := newEngine(t, &fakeSignal{}, &fakeExecutor{})
	assert.NoError(t, e.Close())
}

func TestEngineStopsWithParentContext(t *testing.T) {
	e, _ := newEngine(t, &fakeSignal{}, &fakeExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	cancel()

	require.Eventually(t, func() bool { return !e.Running() }, time.Second, time.Millisecond)
}

func TestEnginePublishesHealthReports(t *testing.T) {
	log := zaptest.NewLogger(t)
	bus := events.NewBus(log, 32)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	reports := make(chan events.HealthReportEvent, 16)
	started := make(chan events.EngineStartedEvent, 1)
	bus.SubscribeFunc(events.HealthReport, func(_ context.Context, ev events.Event) error {
		select {
		case reports <- ev.(events.HealthReportEvent):
		default:
		}
		return nil
	})
	bus.SubscribeFunc(events.EngineStarted, func(_ context.Context, ev events.Event) error {
		started <- ev.(events.EngineStartedEvent)
		return nil
	})

	rel := relay.New(relay.Config{RetryInitial: time.Millisecond, RetryMax: 5 * time.Millisecond}, log, nil)
	e := NewEngine(fastEngineConfig(), rel, &fakeExecutor{}, &fakeSignal{}, monitor.NewLedger(0), bus, log)
	e.Start(context.Background())
	defer func() { _ = e.Close() }()

	select {
	case ev := <-started:
		assert.Equal(t, "DRY-RUN", ev.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("no start event")
	}
	select {
	case ev := <-reports:
		assert.Equal(t, "DRY-RUN", ev.Mode)
		assert.Zero(t, ev.Trades)
		assert.False(t, ev.Daily)
	case <-time.After(2 * time.Second):
		t.Fatal("no health report")
	}
}

func TestDailyDue(t *testing.T) {
	e, _ := newEngine(t, &fakeSignal{}, &fakeExecutor{})
	e.cfg.HealthInterval = time.Hour
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.lastDaily = start

	assert.False(t, e.dailyDue(start.Add(23*time.Hour)))
	assert.True(t, e.dailyDue(start.Add(24*time.Hour-time.Second)))
	assert.False(t, e.dailyDue(start.Add(25*time.Hour)), "the next daily report is a day later")
	assert.True(t, e.dailyDue(start.Add(48*time.Hour)))
}

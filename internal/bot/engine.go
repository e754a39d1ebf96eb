// internal/bot/engine.go
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/market"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
	"github.com/rovshanmuradov/toxi-relay/internal/relay"
)

type EngineConfig struct {
	DryRun         bool
	HealthInterval time.Duration
	Lifecycle      LifecycleConfig
	Discovery      DiscoveryConfig
}

// Engine runs the background loops once the account is authenticated: the
// peer subscription, discovery, the health report and one worker per open
// position.
type Engine struct {
	cfg        EngineConfig
	relay      *relay.Relay
	exec       relay.Executor
	signal     market.Signal
	ledger     *monitor.Ledger
	bus        *events.Bus
	logger     *zap.Logger
	discoverer *Discoverer

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	lastDaily time.Time
	running   atomic.Bool
	workers   sync.WaitGroup
}

func NewEngine(cfg EngineConfig, rel *relay.Relay, exec relay.Executor, signal market.Signal,
	ledger *monitor.Ledger, bus *events.Bus, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg:    cfg,
		relay:  rel,
		exec:   exec,
		signal: signal,
		ledger: ledger,
		bus:    bus,
		logger: logger.Named("engine"),
	}
	e.discoverer = NewDiscoverer(cfg.Discovery, signal, exec, ledger, bus, logger, e.spawn)
	return e
}

func (e *Engine) Running() bool { return e.running.Load() }

// StartedAt is the time the loops were started, zero before Start.
func (e *Engine) StartedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startedAt
}

func (e *Engine) Mode() string {
	if e.cfg.DryRun {
		return "DRY-RUN"
	}
	return "LIVE"
}

// Start launches the loops under parent. Calling it again while running is
// a no-op.
func (e *Engine) Start(parent context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	e.ctx, e.cancel = ctx, cancel
	e.done = make(chan struct{})
	e.startedAt = time.Now()
	e.lastDaily = e.startedAt
	e.running.Store(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.relay.Run(gCtx) })
	g.Go(func() error { return e.discoverer.Run(gCtx) })
	g.Go(func() error { return e.health(gCtx) })

	e.logger.Info("Trading loops started", zap.String("mode", e.Mode()))
	e.publish(events.EngineStartedEvent{BaseEvent: events.NewBase(events.EngineStarted), Mode: e.Mode()})

	done := e.done
	go func() {
		if err := g.Wait(); err != nil {
			e.logger.Error("Trading loop failed", zap.Error(err))
		}
		cancel()
		e.workers.Wait()
		e.logger.Info("Trading loops stopped")
		e.running.Store(false)
		close(done)
	}()
}

// Stop cancels every loop and waits for them, or for ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the engine with no deadline.
func (e *Engine) Close() error {
	return e.Stop(context.Background())
}

func (e *Engine) spawn(pos monitor.Position) {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	w := NewPositionWorker(pos, e.cfg.Lifecycle, e.ledger, e.exec, e.signal, e.bus, e.logger)
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		w.Run(ctx)
	}()
}

func (e *Engine) health(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.reportHealth()
		}
	}
}

func (e *Engine) reportHealth() {
	c := e.ledger.Counters()
	stats := monitor.Compute(c)
	uptime := time.Since(e.StartedAt()).Round(time.Second)

	fields := []zap.Field{
		zap.String("mode", e.Mode()),
		zap.Duration("uptime", uptime),
		zap.Int("trades", c.TotalTrades),
		zap.Int("win_rate", stats.WinRate),
		zap.Int("active_positions", c.ActivePositions),
		zap.String("total_profit", c.TotalProfit.String()),
		zap.Bool("peer_connected", e.relay.Connected()),
	}
	if e.bus != nil {
		fields = append(fields, zap.Int("event_backlog", e.bus.Stats().Pending))
	}
	e.logger.Info("Health check", fields...)

	e.publish(events.HealthReportEvent{
		BaseEvent:       events.NewBase(events.HealthReport),
		Mode:            e.Mode(),
		Uptime:          uptime,
		Trades:          c.TotalTrades,
		WinRate:         stats.WinRate,
		ActivePositions: c.ActivePositions,
		TotalProfit:     c.TotalProfit,
		PeerConnected:   e.relay.Connected(),
		Daily:           e.dailyDue(time.Now()),
	})
}

// dailyDue reports whether a day has passed since the last daily report,
// allowing half a health interval of jitter.
func (e *Engine) dailyDue(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now.Sub(e.lastDaily) < 24*time.Hour-e.cfg.HealthInterval/2 {
		return false
	}
	e.lastDaily = now
	return true
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		_ = e.bus.Publish(ev)
	}
}

// internal/bot/app.go
package bot

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/auth"
	"github.com/rovshanmuradov/toxi-relay/internal/config"
	"github.com/rovshanmuradov/toxi-relay/internal/credstore"
	"github.com/rovshanmuradov/toxi-relay/internal/events"
	"github.com/rovshanmuradov/toxi-relay/internal/export"
	"github.com/rovshanmuradov/toxi-relay/internal/logger"
	"github.com/rovshanmuradov/toxi-relay/internal/market"
	"github.com/rovshanmuradov/toxi-relay/internal/monitor"
	"github.com/rovshanmuradov/toxi-relay/internal/notify"
	"github.com/rovshanmuradov/toxi-relay/internal/provider"
	"github.com/rovshanmuradov/toxi-relay/internal/relay"
)

const (
	eventBufferSize  = 256
	closedTradesKept = 1000
)

// App holds every long-lived component of one process.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Activity  *logger.Buffer
	Bus       *events.Bus
	Store     *credstore.Store
	Auth      *auth.Machine
	Relay     *relay.Relay
	Executor  relay.Executor
	Signal    market.Signal
	Ledger    *monitor.Ledger
	Metrics   *monitor.Metrics
	Exporter  *export.Exporter
	Notifier  *notify.Notifier
	Engine    *Engine
	StartedAt time.Time
}

// NewApp wires the components described by cfg. activity may be nil.
func NewApp(cfg *config.Config, log *zap.Logger, activity *logger.Buffer, factory provider.Factory) (*App, error) {
	var universe []market.Listing
	if cfg.Market.UniverseFile != "" {
		var err error
		if universe, err = market.LoadUniverse(cfg.Market.UniverseFile); err != nil {
			return nil, fmt.Errorf("load token universe: %w", err)
		}
	}

	a := &App{
		Config:    cfg,
		Logger:    log,
		Activity:  activity,
		Bus:       events.NewBus(log, eventBufferSize),
		Store:     credstore.New(cfg.Session.File),
		Ledger:    monitor.NewLedger(closedTradesKept),
		Metrics:   monitor.NewMetrics(),
		Exporter:  export.NewExporter(log),
		StartedAt: time.Now(),
	}

	a.Auth = auth.New(log, a.Store, factory, a.Bus)
	a.Relay = relay.New(relay.Config{
		Keyword:      cfg.Peer.Keyword,
		RetryInitial: cfg.Peer.RetryInitial,
		RetryMax:     cfg.Peer.RetryMax,
		Greet:        true,
	}, log, a.Bus)

	a.Executor = a.Relay
	if cfg.Trading.DryRun {
		a.Executor = relay.NewDryRun(log)
	}

	a.Signal = market.NewSimulator(market.SimulatorConfig{
		BatchSize:         cfg.Market.BatchSize,
		ProfitProbability: cfg.Market.ProfitProbability,
		StopProbability:   cfg.Market.StopProbability,
		MinGain:           cfg.Market.MinGain,
		MaxGain:           cfg.Market.MaxGain,
		Seed:              cfg.Market.Seed,
		Universe:          universe,
	}, log)

	t := cfg.Trading
	a.Engine = NewEngine(EngineConfig{
		DryRun:         t.DryRun,
		HealthInterval: t.HealthInterval,
		Lifecycle: LifecycleConfig{
			MonitorInterval: t.MonitorInterval,
			TakeProfitAfter: t.TakeProfitAfter,
			HardTimeout:     t.HardTimeout,
			SellPercent:     t.SellPercent,
		},
		Discovery: DiscoveryConfig{
			ScanInterval: t.ScanInterval,
			RetryInitial: t.RetryInitial,
			RetryMax:     t.RetryMax,
			MinLiquidity: t.MinLiquidity,
			MinScore:     t.MinScore,
			MaxTokenAge:  t.MaxTokenAge,
			MaxPositions: t.MaxPositions,
			PositionSize: a.PositionSize(),
			Slippage:     t.Slippage,
		},
	}, a.Relay, a.Executor, a.Signal, a.Ledger, a.Bus, log)

	a.Notifier = notify.New(notify.Config{
		BotToken: cfg.Alert.BotToken,
		ChatID:   cfg.Alert.ChatID,
		APIBase:  cfg.Alert.APIBase,
		Timeout:  cfg.Alert.Timeout,
	}, log)

	a.Metrics.Attach(a.Bus, a.Ledger)
	a.Notifier.Attach(a.Bus)
	return a, nil
}

func (a *App) PositionSize() decimal.Decimal {
	return decimal.NewFromFloat(a.Config.Trading.PositionSize)
}

// EnvCredentials returns the credentials supplied through configuration, if
// both are present.
func (a *App) EnvCredentials() (credstore.Credentials, bool) {
	creds := credstore.Credentials{
		APIID:   a.Config.Telegram.APIID,
		APIHash: a.Config.Telegram.APIHash,
	}
	return creds, creds.Complete()
}

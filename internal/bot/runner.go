// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/api"
	"github.com/rovshanmuradov/toxi-relay/internal/auth"
	"github.com/rovshanmuradov/toxi-relay/internal/logger"
	"github.com/rovshanmuradov/toxi-relay/internal/provider"
)

const shutdownTimeout = 30 * time.Second

type Runner struct {
	app     *App
	logger  *zap.Logger
	// signals is replaced in tests to avoid real signals.
	signals func(context.Context) (context.Context, context.CancelFunc)
}

func NewRunner(app *App) *Runner {
	return &Runner{
		app:     app,
		logger:  app.Logger.Named("runner"),
		signals: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		},
	}
}

// Run serves the dashboard until ctx is cancelled or a termination signal
// arrives, then shuts every component down.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := r.signals(ctx)
	defer stop()

	a := r.app
	a.Auth.OnAuthenticated(func(sess provider.Session) {
		r.logger.Info("Authenticated, starting trading loops", zap.String("mode", a.Engine.Mode()))
		a.Relay.Attach(sess)
		a.Engine.Start(ctx)
	})

	r.bootstrap(ctx)

	server := api.New(a.Config.Address(), api.Deps{
		Auth:           a.Auth,
		Relay:          a.Relay,
		Ledger:         a.Ledger,
		Metrics:        a.Metrics,
		Activity:       a.Activity,
		Exporter:       a.Exporter,
		Engine:         a.Engine,
		Bus:            a.Bus,
		PositionSize:   a.PositionSize(),
		Phone:          a.Config.Telegram.Phone,
		StreamInterval: a.Config.Server.StreamInterval,
		StartedAt:      a.StartedAt,
	}, a.Logger)

	shutdown := NewShutdownHandler(a.Logger, shutdownTimeout)
	shutdown.AddFunc("logger", func() error { return logger.Sync(a.Logger) })
	shutdown.AddFunc("metrics", func() error {
		a.Metrics.Detach()
		return nil
	})
	shutdown.AddFunc("notifier", func() error {
		alertCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Notifier.Close(alertCtx)
	})
	shutdown.AddFunc("event bus", func() error {
		busCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Bus.Shutdown(busCtx)
	})
	shutdown.Add("auth", a.Auth)
	shutdown.Add("engine", a.Engine)
	shutdown.AddFunc("http", func() error {
		httpCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(httpCtx)
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("Shutdown requested", zap.Error(context.Cause(ctx)))
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	return errors.Join(runErr, shutdown.Shutdown(context.Background()))
}

// bootstrap applies configured credentials and tries to reuse a persisted
// session. Failures are logged; the dashboard can finish the setup.
func (r *Runner) bootstrap(ctx context.Context) {
	a := r.app
	if creds, ok := a.EnvCredentials(); ok {
		if err := a.Auth.Configure(creds); err != nil {
			r.logger.Warn("Configured credentials rejected", zap.Error(err))
		} else {
			r.logger.Info("Credentials loaded from configuration",
				zap.Int("api_id", creds.APIID),
				zap.String("api_hash", a.Config.MaskedHash()))
		}
	}

	if a.Auth.State() == auth.Unconfigured {
		r.logger.Info("Waiting for credentials", zap.String("setup", "POST /api/setup/credentials"))
		return
	}

	restored, err := a.Auth.Restore(ctx)
	switch {
	case err != nil:
		r.logger.Warn("Session restore failed", zap.Error(err))
	case restored:
		r.logger.Info("Session restored, skipping login")
	default:
		r.logger.Info("No usable session, waiting for login", zap.String("file", a.Store.Path()))
	}
}

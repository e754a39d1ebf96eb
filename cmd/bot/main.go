// cmd/bot/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/toxi-relay/internal/bot"
	"github.com/rovshanmuradov/toxi-relay/internal/config"
	"github.com/rovshanmuradov/toxi-relay/internal/logger"
	"github.com/rovshanmuradov/toxi-relay/internal/provider/telegram"
	"github.com/rovshanmuradov/toxi-relay/internal/ui/style"
)

const activityBufferSize = 500

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	activity := logger.NewBuffer(activityBufferSize)
	appLogger, err := logger.New(logger.Config{
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxAge:      cfg.Log.MaxAge,
		MaxBackups:  cfg.Log.MaxBackups,
		Compress:    cfg.Log.Compress,
		Development: cfg.Log.Development,
	}, activity)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	mode := "LIVE"
	if cfg.Trading.DryRun {
		mode = "DRY-RUN"
	}
	fmt.Fprintln(os.Stderr, style.Banner("TOXI RELAY",
		fmt.Sprintf("mode %s", mode),
		fmt.Sprintf("dashboard http://localhost%s", cfg.Address()),
		fmt.Sprintf("peer keyword %q", cfg.Peer.Keyword)))

	app, err := bot.NewApp(cfg, appLogger, activity, telegram.NewFactory(appLogger))
	if err != nil {
		appLogger.Fatal("Failed to initialize bot", zap.Error(err))
	}

	if err := bot.NewRunner(app).Run(context.Background()); err != nil {
		appLogger.Error("Bot stopped with errors", zap.Error(err))
		os.Exit(1)
	}
}

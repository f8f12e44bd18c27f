package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	coreconfig "github.com/m3rciful/shopbot/core/config"
	"github.com/m3rciful/shopbot/core/conversation"
	"github.com/m3rciful/shopbot/core/database"
	"github.com/m3rciful/shopbot/core/ipn"
	"github.com/m3rciful/shopbot/core/ledger"
	"github.com/m3rciful/shopbot/core/logger"
	"github.com/m3rciful/shopbot/core/reconcile"
	"github.com/m3rciful/shopbot/core/settings"
	coretelegram "github.com/m3rciful/shopbot/core/telegram"
)

const defaultConfigPath = "config.yaml"

func main() {
	if err := run(); err != nil {
		log.Fatalf("shopbot: %v", err)
	}
}

func run() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := coreconfig.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg); err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()

	led, closeLedger, err := buildLedger(cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	store, err := settings.Open(
		filepath.Join(cfg.Storage.Dir, "settings.json"),
		settings.Default(cfg.Telegram.AdminID),
	)
	if err != nil {
		return err
	}

	machine := conversation.NewMachine(conversation.NewTable(), led, store, cfg.Provider)

	bot, err := coretelegram.New(cfg, machine)
	if err != nil {
		return err
	}

	reconciler := reconcile.New(led, store, bot)
	ipnServer := ipn.New(cfg.IPN, reconciler)

	logger.Info(ctx, "app", "ready",
		slog.Duration("duration", logger.Took(startedAt)),
	)

	errCh := make(chan error, 2)
	go func() { errCh <- ipnServer.Run(ctx) }()
	go func() { errCh <- bot.Run(ctx, cfg) }()

	var firstErr error
	select {
	case <-ctx.Done():
	case firstErr = <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ipnServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "app", "shutdown",
			slog.String("err", err.Error()),
		)
	}

	logger.Info(context.Background(), "app", "shutdown")
	return firstErr
}

// buildLedger selects the persistence backend. File is the default; postgres
// additionally runs pending schema migrations on startup.
func buildLedger(cfg *coreconfig.Config) (ledger.Ledger, func(), error) {
	if cfg.Storage.Backend == coreconfig.BackendPostgres {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(cfg.Database); err != nil {
			db.Close()
			return nil, nil, err
		}
		return ledger.NewPostgres(db), func() { db.Close() }, nil
	}

	if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
		return nil, nil, err
	}
	fs, err := ledger.OpenFile(filepath.Join(cfg.Storage.Dir, "orders.json"))
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

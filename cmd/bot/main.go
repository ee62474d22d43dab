package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Freeeeeet/tutoring_bot/internal/app"
	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/config"
	"github.com/Freeeeeet/tutoring_bot/internal/controller"
	"github.com/Freeeeeet/tutoring_bot/internal/notify"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_TOKEN is required but not set")
	}

	logger := app.NewLogger(cfg.Environment, cfg.LogLevel)
	defer logger.Sync()

	logger.Sugar().Infow("Starting tutoring bot",
		"environment", cfg.Environment,
		"storage", cfg.StorageDriver,
		"token_length", len(cfg.TelegramToken))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Bot stopped with error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clk := clock.Real()

	store, err := app.OpenStorage(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	events, closeEvents := app.OpenEventBus(ctx, cfg, clk, logger)
	defer closeEvents()

	// Контроллер создаётся после бота, а обработчик по умолчанию нужен в опциях бота
	var ctrl *controller.BotController
	b, err := bot.New(cfg.TelegramToken, bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
		if ctrl != nil {
			ctrl.HandleDefault(ctx, b, update)
		}
	}))
	if err != nil {
		return err
	}

	svc := app.NewServices(cfg, store, notify.NewTelegramSink(b, store.Users, logger.Named("notify")), events, clk, logger)
	defer svc.Timers.Stop()

	ctrl = controller.NewBotController(b, svc.Users, svc.Sessions, svc.Availability, clk, logger.Named("bot"))
	if err := ctrl.RegisterHandlers(ctx); err != nil {
		logger.Warn("Bot commands menu not set", zap.Error(err))
	}

	recovery := app.NewRecovery(svc.Sessions, svc.Meetings, clk, cfg.SweepInterval, logger.Named("recovery"))
	recovery.Start(ctx)
	defer recovery.Stop()

	return ctrl.Start(ctx)
}

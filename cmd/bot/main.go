package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tokengen/tokengen-bot/internal/admin"
	"github.com/tokengen/tokengen-bot/internal/config"
	"github.com/tokengen/tokengen-bot/internal/database"
	"github.com/tokengen/tokengen-bot/internal/repository"
	"github.com/tokengen/tokengen-bot/internal/service"
	"github.com/tokengen/tokengen-bot/internal/session"
	"github.com/tokengen/tokengen-bot/internal/telegram"
	"github.com/tokengen/tokengen-bot/internal/token"
	"github.com/tokengen/tokengen-bot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	generator := token.NewGenerator(cfg.JWTSecret)

	accountService := service.NewAccountService(accountRepo, cfg.FreeDailyLimit)
	entitlementService := service.NewEntitlementService(accountRepo, generationRepo, generator, cfg.FreeDailyLimit)
	paymentService := service.NewPaymentService(accountRepo, paymentRepo)

	sessions := session.NewManager(cfg.SessionTTL)

	bot := telegram.NewBot(cfg, botAPI, logr, accountService, entitlementService, paymentService, sessions)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, accountService, accountRepo, paymentRepo, generationRepo, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}

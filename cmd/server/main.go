package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ogurasousui/codex-onboarding/internal/adapters/http/handler"
	"github.com/ogurasousui/codex-onboarding/internal/adapters/notify"
	"github.com/ogurasousui/codex-onboarding/internal/adapters/repository/postgres"
	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
	"github.com/ogurasousui/codex-onboarding/internal/platform/config"
	pg "github.com/ogurasousui/codex-onboarding/internal/platform/db/postgres"
	"github.com/ogurasousui/codex-onboarding/internal/platform/logger"
	"github.com/ogurasousui/codex-onboarding/internal/platform/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "assets/local.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog.Fatal().Err(err).Str("path", cfgPath).Msg("failed to load config")
	}

	log := logger.New(cfg.Logging, "onboarding-api")

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	dbPool, err := pg.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database pool: %w", err)
	}
	defer dbPool.Close()

	composer, err := notify.NewComposer(cfg.App.FrontEndURL, cfg.Onboarding.EmailSubject)
	if err != nil {
		return err
	}

	var sender notify.Sender
	switch cfg.Notify.Mode {
	case config.NotifyModeQueue:
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Notify.RedisAddr})
		defer client.Close()
		sender = notify.NewQueueSender(client, cfg.Notify.Queue)
	default:
		sender = notify.NewSMTPMailer(cfg.Mail(), composer)
	}
	dispatcher := notify.NewDispatcher(sender, log, cfg.Notify.SendTimeout)

	userRepo := postgres.NewUserRepository(dbPool)
	txManager := pg.NewTransactionManager(dbPool)
	svc := onboarding.NewService(userRepo, dispatcher, nil, txManager, onboarding.Options{
		AllowReuse: cfg.Onboarding.AllowLinkReuse,
	})

	router := handler.NewRouter(handler.NewOnboardingHandler(svc, log), log)
	httpServer := server.New(cfg.Server, router)

	log.Info().
		Str("addr", cfg.Server.ListenAddr).
		Str("env", cfg.App.Env).
		Str("notify_mode", cfg.Notify.Mode).
		Bool("allow_link_reuse", cfg.Onboarding.AllowLinkReuse).
		Msg("http server listening")

	runErr := httpServer.Run(ctx)

	// リクエスト処理中に起動した送信が終わるまで待つ。
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		log.Warn().Err(err).Msg("pending activation emails were not drained")
	}

	return runErr
}

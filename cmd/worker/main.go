package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/ogurasousui/codex-onboarding/internal/adapters/notify"
	"github.com/ogurasousui/codex-onboarding/internal/platform/config"
	"github.com/ogurasousui/codex-onboarding/internal/platform/logger"
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

	log := logger.New(cfg.Logging, "onboarding-worker")

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped with error")
	}
	log.Info().Msg("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Notify.RedisAddr == "" {
		return errors.New("notify.redis_addr must be set to run the worker")
	}

	composer, err := notify.NewComposer(cfg.App.FrontEndURL, cfg.Onboarding.EmailSubject)
	if err != nil {
		return err
	}
	mailer := notify.NewSMTPMailer(cfg.Mail(), composer)

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Notify.RedisAddr}, asynq.Config{
		Concurrency: cfg.Notify.Concurrency,
		Logger:      asynqLogger{log: log.With().Str("component", "asynq").Logger()},
		Queues: map[string]int{
			cfg.Notify.Queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	mux.Handle(notify.TaskTypeActivationEmail, notify.NewActivationTaskHandler(mailer, log))

	log.Info().
		Str("redis_addr", cfg.Notify.RedisAddr).
		Str("queue", cfg.Notify.Queue).
		Int("concurrency", cfg.Notify.Concurrency).
		Msg("worker started")

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}

	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// asynqLogger は asynq のログを zerolog へ流します。
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

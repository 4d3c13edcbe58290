package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"referral-service/internal/config"
	"referral-service/internal/disbursement"
	"referral-service/internal/logger"
	"referral-service/internal/metrics"
	"referral-service/internal/migrations"
	"referral-service/internal/payout"
	"referral-service/internal/referral"
	"referral-service/internal/router"
	"referral-service/internal/scheduler"
	"referral-service/internal/store"
	"referral-service/internal/webhook"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализация логгера
	log := logger.New(cfg.App)
	defer log.Sync()

	log.Info("запуск реферального сервиса", zap.String("env", cfg.App.Env))

	// Инициализация базы данных
	st, err := store.NewStore(cfg, log)
	if err != nil {
		log.Fatal("ошибка инициализации базы данных", zap.Error(err))
	}
	defer st.Close()

	// Применение миграций
	if err := migrations.RunMigrations(cfg, log); err != nil {
		log.Fatal("ошибка применения миграций", zap.Error(err))
	}

	// Инициализация метрик
	metricsSystem := metrics.New(log, nil)

	// Инициализация referral сервиса
	referralService := referral.NewService(st, log,
		referral.WithMaxAttempts(cfg.Referral.CodeMaxAttempts),
		referral.WithMetrics(metricsSystem))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Загрузка каталога программ
	if cfg.Referral.ProgramsFile != "" {
		programs, err := config.LoadPrograms(cfg.Referral.ProgramsFile)
		if err != nil {
			log.Fatal("ошибка загрузки каталога программ", zap.Error(err))
		}
		if err := referralService.SeedPrograms(ctx, programs); err != nil {
			log.Fatal("ошибка регистрации программ", zap.Error(err))
		}
	}

	// Адаптеры выплат
	adapters := disbursement.NewRegistry(
		disbursement.NewManualAdapter(initOperatorBot(cfg, log), cfg.Telegram.OperatorChatID, log),
		disbursement.NewYooKassaAdapter(cfg.YooKassa.AgentID, cfg.YooKassa.SecretKey, cfg.YooKassa.TestMode, log),
	)
	log.Info("адаптеры выплат зарегистрированы",
		zap.Strings("types", adapters.Types()),
		zap.Bool("yookassa_test_mode", cfg.YooKassa.TestMode))

	payoutService := payout.NewService(st, adapters, log,
		payout.WithMetrics(metricsSystem),
		payout.WithWorkers(cfg.Payout.Workers),
		payout.WithBatchSize(cfg.Payout.DispatchBatch))

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(log, scheduler.WithJobTimeout(cfg.Payout.DispatchTimeout))
	taskScheduler.AddJob(scheduler.NewPayoutDispatchJob(payoutService, log))

	// HTTP сервер
	engine := router.Setup(
		metrics.NewHandler(metricsSystem, st, log),
		webhook.NewYooKassaWebhookHandler(payoutService, cfg.YooKassa.WebhookSecret, log),
		log,
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("HTTP сервер запущен", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ошибка HTTP сервера", zap.Error(err))
			cancel()
		}
	}()

	schedulerDone := make(chan struct{})
	go func() {
		taskScheduler.Start(ctx, cfg.Payout.DispatchInterval)
		close(schedulerDone)
	}()

	log.Info("сервис запущен и готов к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)))

	// Ожидание сигнала завершения
	select {
	case <-sigChan:
		log.Info("получен сигнал завершения, начинаем graceful shutdown")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		log.Warn("планировщик не остановился вовремя")
	}

	log.Info("сервис остановлен")
}

// initOperatorBot создает Telegram бота для уведомлений оператора.
// Без токена ручные выплаты видны только через CLI.
func initOperatorBot(cfg *config.Config, log *zap.Logger) disbursement.MessageSender {
	if cfg.Telegram.BotToken == "" {
		log.Info("Telegram бот отключен, уведомления оператору не отправляются")
		return nil
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatal("ошибка инициализации Telegram бота", zap.Error(err))
	}

	log.Info("Telegram бот инициализирован",
		zap.String("username", botAPI.Self.UserName),
		zap.Int64("operator_chat_id", cfg.Telegram.OperatorChatID))

	return botAPI
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"referral-service/internal/config"
	"referral-service/internal/disbursement"
	"referral-service/internal/payout"
	"referral-service/internal/store"
	"referral-service/pkg/models"

	"go.uber.org/zap"
)

func main() {
	var (
		create     = flag.Bool("create", false, "Создать выплату по конверсии")
		submit     = flag.Bool("submit", false, "Отправить выплату в адаптер")
		markPaid   = flag.Bool("mark-paid", false, "Отметить выплату проведенной")
		markFailed = flag.Bool("mark-failed", false, "Отметить выплату неудачной")
		list       = flag.Bool("list", false, "Показать выплаты в статусе -status")
		trackingID = flag.Int64("tracking", 0, "ID конверсии для -create")
		recipient  = flag.String("recipient", "", "Реквизиты получателя: key=value,key=value")
		payoutID   = flag.Int64("id", 0, "ID выплаты")
		externalID = flag.String("external-id", "", "Номер внешней транзакции для -mark-paid")
		reason     = flag.String("reason", "", "Причина для -mark-failed")
		status     = flag.String("status", string(models.PayoutStatusProcessing), "Статус для -list")
		limit      = flag.Int("limit", 100, "Максимум выплат для -list")
		dryRun     = flag.Bool("dry-run", false, "Показать что будет сделано без изменений")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}
	defer st.Close()

	// CLI не уведомляет оператора, он и есть оператор
	adapters := disbursement.NewRegistry(
		disbursement.NewManualAdapter(nil, 0, logger),
		disbursement.NewYooKassaAdapter(cfg.YooKassa.AgentID, cfg.YooKassa.SecretKey, cfg.YooKassa.TestMode, logger),
	)
	service := payout.NewService(st, adapters, logger)

	ctx := context.Background()

	switch {
	case *create:
		err = createPayout(ctx, service, *trackingID, *recipient, *dryRun, logger)
	case *submit:
		err = submitPayout(ctx, service, *payoutID, *dryRun, logger)
	case *markPaid:
		err = markPayoutPaid(ctx, service, *payoutID, *externalID, *dryRun, logger)
	case *markFailed:
		err = markPayoutFailed(ctx, service, *payoutID, *reason, *dryRun, logger)
	case *list:
		err = listPayouts(ctx, service, models.PayoutStatus(*status), *limit)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Fatal("Ошибка выполнения команды", zap.Error(err))
	}
}

func createPayout(ctx context.Context, service *payout.Service, trackingID int64, rawRecipient string, dryRun bool, logger *zap.Logger) error {
	if trackingID <= 0 {
		return fmt.Errorf("не указан -tracking")
	}
	recipient, err := parseRecipient(rawRecipient)
	if err != nil {
		return err
	}

	if dryRun {
		logger.Info("DRY RUN: будет создана выплата",
			zap.Int64("tracking_id", trackingID),
			zap.Strings("recipient_fields", recipientKeys(recipient)))
		return nil
	}

	p, err := service.CreatePayout(ctx, trackingID, recipient)
	if err != nil {
		return fmt.Errorf("ошибка создания выплаты по конверсии %d: %w", trackingID, err)
	}

	logger.Info("Выплата создана",
		zap.Int64("payout_id", p.ID),
		zap.String("user_id", p.UserID),
		zap.String("amount", p.Amount.StringFixed(2)),
		zap.String("currency", p.Currency),
		zap.String("adapter", p.AdapterType))
	return nil
}

func submitPayout(ctx context.Context, service *payout.Service, payoutID int64, dryRun bool, logger *zap.Logger) error {
	if payoutID <= 0 {
		return fmt.Errorf("не указан -id")
	}

	if dryRun {
		p, err := service.GetPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		logger.Info("DRY RUN: выплата будет отправлена",
			zap.Int64("payout_id", p.ID),
			zap.String("status", string(p.Status)),
			zap.String("adapter", p.AdapterType))
		return nil
	}

	p, err := service.Submit(ctx, payoutID)
	if err != nil {
		return fmt.Errorf("ошибка отправки выплаты %d: %w", payoutID, err)
	}

	logger.Info("Выплата отправлена",
		zap.Int64("payout_id", p.ID),
		zap.String("status", string(p.Status)))
	return nil
}

func markPayoutPaid(ctx context.Context, service *payout.Service, payoutID int64, externalID string, dryRun bool, logger *zap.Logger) error {
	if payoutID <= 0 || externalID == "" {
		return fmt.Errorf("нужны -id и -external-id")
	}

	if dryRun {
		logger.Info("DRY RUN: выплата будет отмечена проведенной",
			zap.Int64("payout_id", payoutID),
			zap.String("external_id", externalID))
		return nil
	}

	p, err := service.MarkAsPaid(ctx, payoutID, externalID)
	if err != nil {
		return fmt.Errorf("ошибка отметки выплаты %d: %w", payoutID, err)
	}

	logger.Info("Выплата отмечена проведенной",
		zap.Int64("payout_id", p.ID),
		zap.String("external_id", externalID))
	return nil
}

func markPayoutFailed(ctx context.Context, service *payout.Service, payoutID int64, reason string, dryRun bool, logger *zap.Logger) error {
	if payoutID <= 0 || reason == "" {
		return fmt.Errorf("нужны -id и -reason")
	}

	if dryRun {
		logger.Info("DRY RUN: выплата будет отмечена неудачной",
			zap.Int64("payout_id", payoutID),
			zap.String("reason", reason))
		return nil
	}

	p, err := service.MarkAsFailed(ctx, payoutID, reason)
	if err != nil {
		return fmt.Errorf("ошибка отметки выплаты %d: %w", payoutID, err)
	}

	logger.Info("Выплата отмечена неудачной",
		zap.Int64("payout_id", p.ID),
		zap.String("reason", reason))
	return nil
}

func listPayouts(ctx context.Context, service *payout.Service, status models.PayoutStatus, limit int) error {
	if !status.IsValid() {
		return fmt.Errorf("неизвестный статус %q", status)
	}

	payouts, err := service.ListPayouts(ctx, status, limit)
	if err != nil {
		return fmt.Errorf("ошибка получения выплат: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tAMOUNT\tADAPTER\tCREATED")
	for _, p := range payouts {
		fmt.Fprintf(w, "%d\t%s\t%s %s\t%s\t%s\n",
			p.ID, p.UserID, p.Amount.StringFixed(2), p.Currency, p.AdapterType,
			p.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// parseRecipient разбирает строку вида key=value,key=value
func parseRecipient(raw string) (models.RecipientData, error) {
	recipient := models.RecipientData{}
	if strings.TrimSpace(raw) == "" {
		return recipient, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("неверный формат реквизитов %q, ожидается key=value", pair)
		}
		recipient[key] = strings.TrimSpace(value)
	}
	return recipient, nil
}

func recipientKeys(recipient models.RecipientData) []string {
	keys := make([]string, 0, len(recipient))
	for k := range recipient {
		keys = append(keys, k)
	}
	return keys
}

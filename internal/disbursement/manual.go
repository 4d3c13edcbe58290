package disbursement

import (
	"context"
	"fmt"
	"strings"

	"referral-service/pkg/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// ManualAdapterType тип адаптера ручных банковских переводов
const ManualAdapterType = "manual"

// MessageSender отправляет сообщения в Telegram. Реализуется *tgbotapi.BotAPI.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ManualAdapter ставит выплату в очередь оператору. Оператор проводит перевод
// вручную и отмечает выплату через CLI.
type ManualAdapter struct {
	sender MessageSender
	chatID int64
	logger *zap.Logger
}

// NewManualAdapter создает адаптер ручных выплат. sender может быть nil,
// тогда уведомления оператору не отправляются.
func NewManualAdapter(sender MessageSender, chatID int64, logger *zap.Logger) *ManualAdapter {
	return &ManualAdapter{
		sender: sender,
		chatID: chatID,
		logger: logger,
	}
}

// Type возвращает тип адаптера
func (a *ManualAdapter) Type() string {
	return ManualAdapterType
}

// ValidateRecipient проверяет банковские реквизиты получателя
func (a *ManualAdapter) ValidateRecipient(recipient models.RecipientData) error {
	return requireFields(recipient, "account_holder_name", "bank_account_number")
}

// Submit уведомляет оператора и оставляет выплату в обработке
func (a *ManualAdapter) Submit(ctx context.Context, req *Request) (*Result, error) {
	if err := a.ValidateRecipient(req.Recipient); err != nil {
		return nil, err
	}

	if a.sender != nil && a.chatID != 0 {
		msg := tgbotapi.NewMessage(a.chatID, a.formatMessage(req))
		if _, err := a.sender.Send(msg); err != nil {
			// выплата остается в processing и видна в списке оператора
			a.logger.Error("ошибка отправки уведомления оператору",
				zap.Int64("payout_id", req.PayoutID),
				zap.Error(err))
		}
	}

	a.logger.Info("выплата поставлена в очередь оператору",
		zap.Int64("payout_id", req.PayoutID),
		zap.String("user_id", req.UserID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("currency", req.Currency))

	return &Result{Status: models.PayoutStatusProcessing}, nil
}

func (a *ManualAdapter) formatMessage(req *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💸 Новая выплата #%d\n\n", req.PayoutID)
	fmt.Fprintf(&b, "Пользователь: %s\n", req.UserID)
	fmt.Fprintf(&b, "Сумма: %s %s\n", req.Amount.StringFixed(2), req.Currency)
	fmt.Fprintf(&b, "Получатель: %s\n", req.Recipient["account_holder_name"])
	fmt.Fprintf(&b, "Счет: %s\n", maskAccount(req.Recipient["bank_account_number"]))
	if bank := req.Recipient["bank_name"]; bank != "" {
		fmt.Fprintf(&b, "Банк: %s\n", bank)
	}
	fmt.Fprintf(&b, "\nПосле перевода: payouts -mark-paid -id %d -external-id <номер перевода>", req.PayoutID)
	return b.String()
}

// maskAccount оставляет видимыми последние четыре символа номера счета
func maskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
}

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"referral-service/internal/apperr"
	"referral-service/pkg/models"

	"go.uber.org/zap"
)

// SignatureHeader заголовок с HMAC подписью тела запроса
const SignatureHeader = "X-YooKassa-Signature"

const maxBodySize = 1 << 20

// PayoutMarker завершает выплаты. Реализуется *payout.Service.
type PayoutMarker interface {
	MarkAsPaid(ctx context.Context, payoutID int64, externalTransactionID string) (*models.Payout, error)
	MarkAsFailed(ctx context.Context, payoutID int64, reason string) (*models.Payout, error)
}

// YooKassaWebhookHandler обрабатывает уведомления ЮKassa о выплатах
type YooKassaWebhookHandler struct {
	payouts   PayoutMarker
	logger    *zap.Logger
	secretKey string
}

// NewYooKassaWebhookHandler создает новый обработчик webhook'ов
func NewYooKassaWebhookHandler(payouts PayoutMarker, secretKey string, logger *zap.Logger) *YooKassaWebhookHandler {
	return &YooKassaWebhookHandler{
		payouts:   payouts,
		logger:    logger,
		secretKey: secretKey,
	}
}

// PayoutWebhook уведомление ЮKassa о выплате
type PayoutWebhook struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"amount"`
		Metadata            map[string]string `json:"metadata"`
		CancellationDetails *struct {
			Party  string `json:"party"`
			Reason string `json:"reason"`
		} `json:"cancellation_details,omitempty"`
	} `json:"object"`
}

// HandleWebhook обрабатывает входящий webhook от ЮKassa
func (h *YooKassaWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.logger.Warn("неверный метод webhook запроса", zap.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Error("ошибка чтения тела запроса", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	if !h.verifySignature(r.Header.Get(SignatureHeader), body) {
		h.logger.Warn("неверная подпись webhook'а", zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var webhook PayoutWebhook
	if err := json.Unmarshal(body, &webhook); err != nil {
		h.logger.Error("ошибка парсинга webhook'а", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	h.logger.Info("получен webhook от ЮKassa",
		zap.String("event", webhook.Event),
		zap.String("external_id", webhook.Object.ID),
		zap.String("status", webhook.Object.Status))

	switch webhook.Event {
	case "payout.succeeded":
		err = h.handlePayoutSucceeded(r.Context(), webhook)
	case "payout.canceled":
		err = h.handlePayoutCanceled(r.Context(), webhook)
	default:
		h.logger.Info("неизвестное событие webhook'а", zap.String("event", webhook.Event))
	}

	if err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handlePayoutSucceeded отмечает выплату проведенной
func (h *YooKassaWebhookHandler) handlePayoutSucceeded(ctx context.Context, webhook PayoutWebhook) error {
	payoutID, err := payoutIDFromMetadata(webhook)
	if err != nil {
		return err
	}

	if _, err := h.payouts.MarkAsPaid(ctx, payoutID, webhook.Object.ID); err != nil {
		return fmt.Errorf("ошибка обработки выплаты %d: %w", payoutID, err)
	}

	h.logger.Info("выплата подтверждена ЮKassa",
		zap.Int64("payout_id", payoutID),
		zap.String("external_id", webhook.Object.ID))
	return nil
}

// handlePayoutCanceled отмечает выплату неудачной
func (h *YooKassaWebhookHandler) handlePayoutCanceled(ctx context.Context, webhook PayoutWebhook) error {
	payoutID, err := payoutIDFromMetadata(webhook)
	if err != nil {
		return err
	}

	reason := "canceled"
	if d := webhook.Object.CancellationDetails; d != nil && d.Reason != "" {
		reason = d.Reason
	}

	if _, err := h.payouts.MarkAsFailed(ctx, payoutID, reason); err != nil {
		return fmt.Errorf("ошибка обработки отмененной выплаты %d: %w", payoutID, err)
	}

	h.logger.Info("выплата отменена ЮKassa",
		zap.Int64("payout_id", payoutID),
		zap.String("reason", reason))
	return nil
}

// writeError выбирает код ответа. На 5xx ЮKassa повторяет уведомление.
func (h *YooKassaWebhookHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsValidation(err), errors.Is(err, apperr.ErrPayoutNotFound):
		h.logger.Warn("webhook отклонен", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
	case errors.Is(err, apperr.ErrPayoutAlreadyProcessed):
		h.logger.Warn("выплата уже завершена с другим результатом", zap.Error(err))
		http.Error(w, "Conflict", http.StatusConflict)
	default:
		h.logger.Error("ошибка обработки webhook'а", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func payoutIDFromMetadata(webhook PayoutWebhook) (int64, error) {
	raw := webhook.Object.Metadata["payout_id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NewValidationError("metadata.payout_id", "must be a positive integer")
	}
	return id, nil
}

// verifySignature проверяет подпись webhook'а. Без секрета проверка отключена.
func (h *YooKassaWebhookHandler) verifySignature(signature string, body []byte) bool {
	if h.secretKey == "" {
		return true
	}
	if signature == "" {
		return false
	}

	return hmac.Equal([]byte(signature), []byte(Sign(h.secretKey, body)))
}

// Sign вычисляет подпись тела запроса
func Sign(secretKey string, body []byte) string {
	h256 := hmac.New(sha256.New, []byte(secretKey))
	h256.Write(body)
	return hex.EncodeToString(h256.Sum(nil))
}

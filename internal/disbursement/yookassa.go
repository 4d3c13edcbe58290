package disbursement

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"referral-service/pkg/models"

	"go.uber.org/zap"
)

// YooKassaAdapterType тип адаптера выплат через ЮKassa
const YooKassaAdapterType = "yookassa"

const defaultYooKassaURL = "https://api.yookassa.ru/v3"

// YooKassaAdapter проводит выплаты через API выплат ЮKassa
type YooKassaAdapter struct {
	agentID    string
	secretKey  string
	baseURL    string
	testMode   bool
	httpClient *http.Client
	logger     *zap.Logger
}

// YooKassaOption настраивает YooKassaAdapter
type YooKassaOption func(*YooKassaAdapter)

// WithBaseURL подменяет адрес API
func WithBaseURL(url string) YooKassaOption {
	return func(a *YooKassaAdapter) { a.baseURL = url }
}

// WithHTTPClient подменяет HTTP клиент
func WithHTTPClient(c *http.Client) YooKassaOption {
	return func(a *YooKassaAdapter) { a.httpClient = c }
}

// Amount сумма в формате ЮKassa
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// PayoutRequest запрос на создание выплаты
type PayoutRequest struct {
	Amount      Amount            `json:"amount"`
	PayoutToken string            `json:"payout_token"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PayoutResponse ответ ЮKassa на создание выплаты
type PayoutResponse struct {
	ID                  string            `json:"id"`
	Status              string            `json:"status"`
	Amount              Amount            `json:"amount"`
	CreatedAt           string            `json:"created_at"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CancellationDetails *struct {
		Party  string `json:"party"`
		Reason string `json:"reason"`
	} `json:"cancellation_details,omitempty"`
}

// NewYooKassaAdapter создает адаптер выплат ЮKassa
func NewYooKassaAdapter(agentID, secretKey string, testMode bool, logger *zap.Logger, opts ...YooKassaOption) *YooKassaAdapter {
	a := &YooKassaAdapter{
		agentID:   agentID,
		secretKey: secretKey,
		baseURL:   defaultYooKassaURL,
		testMode:  testMode,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Type возвращает тип адаптера
func (a *YooKassaAdapter) Type() string {
	return YooKassaAdapterType
}

// ValidateRecipient проверяет наличие токена выплаты
func (a *YooKassaAdapter) ValidateRecipient(recipient models.RecipientData) error {
	return requireFields(recipient, "payout_token")
}

// Submit создает выплату в ЮKassa
func (a *YooKassaAdapter) Submit(ctx context.Context, req *Request) (*Result, error) {
	if err := a.ValidateRecipient(req.Recipient); err != nil {
		return nil, err
	}

	// В тестовом режиме возвращаем успешную выплату
	if a.testMode {
		testPayoutID := fmt.Sprintf("test_payout_%d", req.PayoutID)
		a.logger.Info("создана тестовая выплата",
			zap.Int64("payout_id", req.PayoutID),
			zap.String("external_id", testPayoutID),
			zap.Bool("test_mode", true))
		return &Result{Status: models.PayoutStatusPaid, ExternalTransactionID: testPayoutID}, nil
	}

	description := req.Config["description"]
	if description == "" {
		description = fmt.Sprintf("Реферальное вознаграждение #%d", req.PayoutID)
	}

	payoutReq := PayoutRequest{
		Amount: Amount{
			Value:    req.Amount.StringFixed(2),
			Currency: req.Currency,
		},
		PayoutToken: req.Recipient["payout_token"],
		Description: description,
		Metadata: map[string]string{
			"payout_id": strconv.FormatInt(req.PayoutID, 10),
			"user_id":   req.UserID,
		},
	}

	reqBody, err := json.Marshal(payoutReq)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/payouts", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+a.getAuthHeader())
	httpReq.Header.Set("Idempotence-Key", req.IdempotenceKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if isRejectedStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: статус %d: %s", ErrRejected, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("неожиданный статус ответа: %d: %s", resp.StatusCode, string(body))
	}

	var payoutResp PayoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&payoutResp); err != nil {
		return nil, fmt.Errorf("ошибка парсинга ответа: %w", err)
	}

	a.logger.Info("выплата создана в ЮKassa",
		zap.Int64("payout_id", req.PayoutID),
		zap.String("external_id", payoutResp.ID),
		zap.String("status", payoutResp.Status))

	return mapPayoutResponse(&payoutResp), nil
}

// mapPayoutResponse переводит статус ЮKassa в статус выплаты
func mapPayoutResponse(resp *PayoutResponse) *Result {
	result := &Result{ExternalTransactionID: resp.ID}

	switch resp.Status {
	case "succeeded":
		result.Status = models.PayoutStatusPaid
	case "canceled":
		result.Status = models.PayoutStatusFailed
		result.FailureReason = "canceled"
		if resp.CancellationDetails != nil && resp.CancellationDetails.Reason != "" {
			result.FailureReason = resp.CancellationDetails.Reason
		}
	default:
		result.Status = models.PayoutStatusProcessing
	}

	return result
}

// isRejectedStatus 4xx кроме 429 означает, что ЮKassa не приняла запрос.
// На 5xx и 429 выплата могла быть создана, повтор с тем же ключом безопасен.
func isRejectedStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// getAuthHeader создает заголовок авторизации для ЮKassa
func (a *YooKassaAdapter) getAuthHeader() string {
	auth := a.agentID + ":" + a.secretKey
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

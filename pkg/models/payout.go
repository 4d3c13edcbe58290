package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecipientData реквизиты получателя выплаты. Схема ключей определяется адаптером.
type RecipientData map[string]string

// Payout запись о выплате по одной конверсии
type Payout struct {
	ID                    int64           `json:"id" db:"id"`
	UserID                string          `json:"user_id" db:"user_id"`
	TrackingID            int64           `json:"tracking_id" db:"tracking_id"`
	Amount                decimal.Decimal `json:"amount" db:"amount"`
	Currency              string          `json:"currency" db:"currency"`
	Status                PayoutStatus    `json:"status" db:"status"`
	AdapterType           string          `json:"adapter_type" db:"adapter_type"`
	RecipientData         RecipientData   `json:"recipient_data" db:"recipient_data"`
	ExternalTransactionID *string         `json:"external_transaction_id,omitempty" db:"external_transaction_id"`
	FailureReason         *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	ProcessedAt           *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
}

// IsPaidWith проверяет, что выплата уже проведена с указанным внешним ID
func (p *Payout) IsPaidWith(externalID string) bool {
	return p.Status == PayoutStatusPaid &&
		p.ExternalTransactionID != nil &&
		*p.ExternalTransactionID == externalID
}

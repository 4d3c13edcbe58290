package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CodeResult результат выпуска реферального кода
type CodeResult struct {
	Code      string     `json:"code"`
	ProgramID int64      `json:"program_id"`
	UserID    string     `json:"user_id"`
	MaxUses   *int       `json:"max_uses,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ValidationResult результат проверки реферального кода
type ValidationResult struct {
	Valid          bool   `json:"valid"`
	CodeID         int64  `json:"code_id"`
	ReferrerUserID string `json:"referrer_user_id"`
	ProgramID      int64  `json:"program_id"`
}

// TrackRequest запрос на фиксацию конверсии
type TrackRequest struct {
	Code              string          `json:"code"`
	ReferredUserID    string          `json:"referred_user_id"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
}

// TrackingResult результат фиксации конверсии
type TrackingResult struct {
	TrackingID     int64           `json:"tracking_id"`
	ReferrerUserID string          `json:"referrer_user_id"`
	ReferredUserID string          `json:"referred_user_id"`
	AmountEarned   decimal.Decimal `json:"amount_earned"`
	Currency       string          `json:"currency"`
	PayoutStatus   PayoutStatus    `json:"payout_status"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus статус выплаты (используется и выплатами, и конверсиями)
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// IsValid проверяет валидность статуса выплаты
func (ps PayoutStatus) IsValid() bool {
	switch ps {
	case PayoutStatusPending, PayoutStatusProcessing, PayoutStatusPaid, PayoutStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true для paid и failed
func (ps PayoutStatus) IsTerminal() bool {
	return ps == PayoutStatusPaid || ps == PayoutStatusFailed
}

// ReferralTracking одна успешная конверсия по реферальному коду
type ReferralTracking struct {
	ID                int64            `json:"id" db:"id"`
	ReferrerUserID    string           `json:"referrer_user_id" db:"referrer_user_id"`
	ReferredUserID    string           `json:"referred_user_id" db:"referred_user_id"`
	CodeID            int64            `json:"code_id" db:"code_id"`
	ProgramID         int64            `json:"program_id" db:"program_id"`
	TransactionID     *string          `json:"transaction_id,omitempty" db:"transaction_id"`
	TransactionAmount *decimal.Decimal `json:"transaction_amount,omitempty" db:"transaction_amount"`
	AmountEarned      decimal.Decimal  `json:"amount_earned" db:"amount_earned"`
	Currency          string           `json:"currency" db:"currency"`
	ConvertedAt       time.Time        `json:"converted_at" db:"converted_at"`
	PayoutStatus      PayoutStatus     `json:"payout_status" db:"payout_status"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
}

// UserEarnings агрегированный заработок реферера
type UserEarnings struct {
	Total   decimal.Decimal `json:"total"`
	Pending decimal.Decimal `json:"pending"`
	Paid    decimal.Decimal `json:"paid"`
}

// ReferralHistoryItem краткая запись истории рефералов
type ReferralHistoryItem struct {
	ReferredUserID string          `json:"referred_user_id"`
	AmountEarned   decimal.Decimal `json:"amount_earned"`
	ConvertedAt    time.Time       `json:"converted_at"`
	PayoutStatus   PayoutStatus    `json:"payout_status"`
}

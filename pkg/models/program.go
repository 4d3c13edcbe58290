package models

import (
	"regexp"
	"strings"
	"time"

	"referral-service/internal/apperr"

	"github.com/shopspring/decimal"
)

// RewardType правило расчета вознаграждения за конверсию
type RewardType string

const (
	RewardTypeOneTime    RewardType = "one_time"
	RewardTypeRecurring  RewardType = "recurring"
	RewardTypePercentage RewardType = "percentage"
)

// IsValid проверяет валидность типа вознаграждения
func (rt RewardType) IsValid() bool {
	switch rt {
	case RewardTypeOneTime, RewardTypeRecurring, RewardTypePercentage:
		return true
	default:
		return false
	}
}

const (
	DefaultCurrency    = "USD"
	DefaultAdapterType = "manual"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// AdapterConfig настройки адаптера выплат программы. Схема ключей определяется адаптером.
type AdapterConfig map[string]string

// ReferralProgram описывает условия вознаграждения реферальной программы
type ReferralProgram struct {
	ID             int64           `json:"id" db:"id"`
	ProgramKey     string          `json:"program_key" db:"program_key"`
	Name           string          `json:"name" db:"name"`
	RewardAmount   decimal.Decimal `json:"reward_amount" db:"reward_amount"`
	RewardCurrency string          `json:"reward_currency" db:"reward_currency"`
	RewardType     RewardType      `json:"reward_type" db:"reward_type"`
	// IsActive записывается как есть: false создает неактивную программу,
	// DEFAULT TRUE колонки при вставке не применяется
	IsActive       bool            `json:"is_active" db:"is_active"`
	AdapterType    string          `json:"adapter_type" db:"adapter_type"`
	AdapterConfig  AdapterConfig   `json:"adapter_config" db:"adapter_config"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// ApplyDefaults заполняет необязательные поля значениями по умолчанию
func (p *ReferralProgram) ApplyDefaults() {
	if p.RewardCurrency == "" {
		p.RewardCurrency = DefaultCurrency
	}
	p.RewardCurrency = strings.ToUpper(p.RewardCurrency)
	if p.RewardType == "" {
		p.RewardType = RewardTypeOneTime
	}
	if p.AdapterType == "" {
		p.AdapterType = DefaultAdapterType
	}
	if p.AdapterConfig == nil {
		p.AdapterConfig = AdapterConfig{}
	}
}

// Validate проверяет инварианты программы
func (p *ReferralProgram) Validate() error {
	if strings.TrimSpace(p.ProgramKey) == "" {
		return apperr.NewValidationError("program_key", "must not be empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		return apperr.NewValidationError("name", "must not be empty")
	}
	if p.RewardAmount.IsNegative() {
		return apperr.NewValidationError("reward_amount", "must not be negative")
	}
	if !currencyPattern.MatchString(p.RewardCurrency) {
		return apperr.NewValidationError("reward_currency", "must be an ISO 4217 code")
	}
	if !p.RewardType.IsValid() {
		return apperr.NewValidationError("reward_type", "unsupported reward type")
	}
	if p.RewardType == RewardTypePercentage && p.RewardAmount.GreaterThan(decimal.NewFromInt(100)) {
		return apperr.NewValidationError("reward_amount", "percentage must not exceed 100")
	}
	return nil
}

// ComputeReward рассчитывает вознаграждение за одну конверсию
func (p *ReferralProgram) ComputeReward(transactionAmount decimal.Decimal) (decimal.Decimal, error) {
	switch p.RewardType {
	case RewardTypeOneTime, RewardTypeRecurring:
		return p.RewardAmount, nil
	case RewardTypePercentage:
		if !transactionAmount.IsPositive() {
			return decimal.Zero, apperr.NewValidationError("transaction_amount", "required for percentage rewards")
		}
		return p.RewardAmount.Div(decimal.NewFromInt(100)).Mul(transactionAmount).Round(2), nil
	default:
		return decimal.Zero, apperr.NewValidationError("reward_type", "unsupported reward type")
	}
}

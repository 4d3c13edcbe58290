package models

import (
	"time"
)

// CodeStatus статус реферального кода
type CodeStatus string

const (
	CodeStatusActive   CodeStatus = "active"
	CodeStatusInactive CodeStatus = "inactive"
	CodeStatusExpired  CodeStatus = "expired"
)

// IsValid проверяет валидность статуса кода
func (cs CodeStatus) IsValid() bool {
	switch cs {
	case CodeStatusActive, CodeStatusInactive, CodeStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true для статусов, из которых нет перехода
func (cs CodeStatus) IsTerminal() bool {
	return cs == CodeStatusInactive || cs == CodeStatusExpired
}

// ReferralCode код, которым реферер делится в рамках программы
type ReferralCode struct {
	ID        int64      `json:"id" db:"id"`
	Code      string     `json:"code" db:"code"`
	UserID    string     `json:"user_id" db:"user_id"`
	ProgramID int64      `json:"program_id" db:"program_id"`
	Status    CodeStatus `json:"status" db:"status"`
	UsesCount int        `json:"uses_count" db:"uses_count"`
	MaxUses   *int       `json:"max_uses,omitempty" db:"max_uses"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// IsExpiredAt проверяет истечение срока действия на момент now
func (c *ReferralCode) IsExpiredAt(now time.Time) bool {
	if c.Status == CodeStatusExpired {
		return true
	}
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// IsExhausted проверяет, исчерпан ли лимит использований
func (c *ReferralCode) IsExhausted() bool {
	return c.MaxUses != nil && c.UsesCount >= *c.MaxUses
}

package apperr

import (
	"errors"
	"fmt"
)

// Error описывает ожидаемую бизнес-ошибку со стабильным кодом для API
type Error struct {
	code    string
	message string
}

// New создает новую бизнес-ошибку
func New(code, message string) *Error {
	return &Error{code: code, message: message}
}

func (e *Error) Error() string {
	return e.message
}

// Code возвращает стабильный идентификатор ошибки
func (e *Error) Code() string {
	return e.code
}

var (
	ErrProgramNotFound        = New("program_not_found", "program not found")
	ErrCodeNotFound           = New("code_not_found", "code not found")
	ErrCodeInactive           = New("code_inactive", "code inactive")
	ErrCodeExpired            = New("code_expired", "code expired")
	ErrCodeUsesExhausted      = New("code_uses_exhausted", "code uses exhausted")
	ErrSelfReferral           = New("self_referral", "self referral not allowed")
	ErrDuplicateConversion    = New("duplicate_conversion", "conversion already tracked")
	ErrTrackingNotFound       = New("tracking_not_found", "tracking not found")
	ErrPayoutNotFound         = New("payout_not_found", "payout not found")
	ErrPayoutAlreadyProcessed = New("payout_already_processed", "payout already processed")
	ErrUnknownAdapter         = New("unknown_adapter", "unknown disbursement adapter")
)

// ValidationError ошибка валидации полей или нарушения уникальности
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError создает ошибку валидации
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Code возвращает стабильный идентификатор ошибки
func (e *ValidationError) Code() string {
	return "validation_error"
}

// IsValidation проверяет, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CodeOf возвращает стабильный код ошибки для трансляции в API.
// Неизвестные ошибки хранилища наружу не раскрываются.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code()
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code()
	}
	return "internal_error"
}

// MessageOf возвращает сообщение, безопасное для отображения пользователю
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Error()
	}
	return "internal error"
}

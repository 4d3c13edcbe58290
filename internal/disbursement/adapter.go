// Package disbursement содержит адаптеры, которые проводят выплаты во внешних системах.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"referral-service/internal/apperr"
	"referral-service/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// payoutNamespace пространство имен UUIDv5 для ключей идемпотентности выплат
var payoutNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("referral-service/payouts"))

// ErrRejected внешняя система окончательно отклонила выплату. Остальные ошибки
// Submit (таймауты, обрывы, 5xx) не означают, что выплата не проведена.
var ErrRejected = errors.New("payout rejected by provider")

// IsRejected проверяет, что ошибка адаптера окончательная: отказ провайдера
// или неверные реквизиты
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected) || apperr.IsValidation(err)
}

// Request запрос на проведение выплаты
type Request struct {
	PayoutID       int64
	IdempotenceKey string
	UserID         string
	Amount         decimal.Decimal
	Currency       string
	Recipient      models.RecipientData
	Config         models.AdapterConfig
}

// Result ответ адаптера. Status принимает значения processing, paid или failed.
type Result struct {
	Status                models.PayoutStatus
	ExternalTransactionID string
	FailureReason         string
}

// Adapter проводит выплату во внешней системе
type Adapter interface {
	Type() string
	ValidateRecipient(recipient models.RecipientData) error
	Submit(ctx context.Context, req *Request) (*Result, error)
}

// Registry хранит адаптеры по типу
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry создает реестр с переданными адаптерами
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register добавляет адаптер, заменяя адаптер того же типа
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get возвращает адаптер по типу
func (r *Registry) Get(adapterType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[adapterType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnknownAdapter, adapterType)
	}
	return a, nil
}

// Types возвращает зарегистрированные типы в алфавитном порядке
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IdempotenceKey детерминированный ключ идемпотентности для выплаты
func IdempotenceKey(payoutID int64) string {
	return uuid.NewSHA1(payoutNamespace, []byte(fmt.Sprintf("payout:%d", payoutID))).String()
}

// requireFields проверяет наличие обязательных непустых ключей
func requireFields(recipient models.RecipientData, fields ...string) error {
	for _, f := range fields {
		if recipient[f] == "" {
			return apperr.NewValidationError("recipient_data."+f, "required")
		}
	}
	return nil
}

package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"referral-service/internal/apperr"
	"referral-service/internal/store"
	"referral-service/pkg/models"

	"go.uber.org/zap"
)

const defaultMaxAttempts = 10

// Recorder принимает метрики реферального сервиса
type Recorder interface {
	RecordCodeIssued(programKey string)
	RecordValidation(result string)
	RecordReferral(programKey, currency string, amount float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordCodeIssued(string)                {}
func (nopRecorder) RecordValidation(string)                {}
func (nopRecorder) RecordReferral(string, string, float64) {}

// Service представляет сервис для управления реферальной системой
type Service struct {
	store       store.Store
	logger      *zap.Logger
	metrics     Recorder
	now         func() time.Time
	generate    CodeGenerator
	maxAttempts int
}

// Option настраивает Service
type Option func(*Service)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator подменяет генератор строк кода
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *Service) { s.generate = gen }
}

// WithMaxAttempts задает число попыток подобрать свободный код
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithMetrics подключает метрики
func WithMetrics(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// NewService создает новый сервис рефералов
func NewService(st store.Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:       st,
		logger:      logger,
		metrics:     nopRecorder{},
		now:         func() time.Time { return time.Now().UTC() },
		generate:    GenerateCode,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type codeOptions struct {
	maxUses   *int
	expiresAt *time.Time
}

// CodeOption задает необязательные параметры нового кода
type CodeOption func(*codeOptions)

// WithMaxUses ограничивает число использований кода
func WithMaxUses(n int) CodeOption {
	return func(o *codeOptions) { o.maxUses = &n }
}

// WithExpiry задает момент истечения кода
func WithExpiry(t time.Time) CodeOption {
	return func(o *codeOptions) {
		utc := t.UTC()
		o.expiresAt = &utc
	}
}

// CreateCode выпускает пользователю новый код в активной программе
func (s *Service) CreateCode(ctx context.Context, userID, programKey string, opts ...CodeOption) (*models.CodeResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.NewValidationError("user_id", "required")
	}

	var o codeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxUses != nil && *o.maxUses < 1 {
		return nil, apperr.NewValidationError("max_uses", "must be positive")
	}
	if o.expiresAt != nil && !o.expiresAt.After(s.now()) {
		return nil, apperr.NewValidationError("expires_at", "must be in the future")
	}

	var code *models.ReferralCode
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		program, err := tx.Program().GetByKey(ctx, programKey)
		if err != nil {
			return err
		}
		if !program.IsActive {
			return apperr.ErrProgramNotFound
		}

		value, err := s.uniqueCode(ctx, tx, CodePrefix(program.ProgramKey))
		if err != nil {
			return err
		}

		code = &models.ReferralCode{
			Code:      value,
			UserID:    userID,
			ProgramID: program.ID,
			Status:    models.CodeStatusActive,
			MaxUses:   o.maxUses,
			ExpiresAt: o.expiresAt,
		}
		return tx.Code().Create(ctx, code)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCodeIssued(programKey)
	s.logger.Info("реферальный код выпущен",
		zap.String("user_id", userID),
		zap.String("program_key", programKey),
		zap.String("code", code.Code))

	return &models.CodeResult{
		Code:      code.Code,
		ProgramID: code.ProgramID,
		UserID:    code.UserID,
		MaxUses:   code.MaxUses,
		ExpiresAt: code.ExpiresAt,
		CreatedAt: code.CreatedAt,
	}, nil
}

// uniqueCode подбирает свободную строку кода за ограниченное число попыток
func (s *Service) uniqueCode(ctx context.Context, tx store.Store, prefix string) (string, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		candidate, err := s.generate(prefix)
		if err != nil {
			return "", fmt.Errorf("ошибка генерации реферального кода: %w", err)
		}

		exists, err := tx.Code().Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}

		// Код уже существует, пробуем снова
		s.logger.Warn("сгенерированный код уже существует, пробуем снова",
			zap.String("code", candidate),
			zap.Int("attempt", attempt+1))
	}

	return "", fmt.Errorf("не удалось сгенерировать уникальный реферальный код после %d попыток", s.maxAttempts)
}

// ValidateCode проверяет, что код можно использовать прямо сейчас
func (s *Service) ValidateCode(ctx context.Context, value string) (*models.ValidationResult, error) {
	var result *models.ValidationResult
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		code, err := s.validate(ctx, tx, value)
		if err != nil {
			return err
		}
		result = &models.ValidationResult{
			Valid:          true,
			CodeID:         code.ID,
			ReferrerUserID: code.UserID,
			ProgramID:      code.ProgramID,
		}
		return nil
	})

	s.recordValidation(err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// validate проверяет код в порядке: неактивен, истек, исчерпан
func (s *Service) validate(ctx context.Context, tx store.Store, value string) (*models.ReferralCode, error) {
	code, err := tx.Code().GetByCode(ctx, value)
	if err != nil {
		return nil, err
	}

	switch {
	case code.Status == models.CodeStatusInactive:
		return nil, apperr.ErrCodeInactive
	case code.IsExpiredAt(s.now()):
		s.markExpired(ctx, code)
		return nil, apperr.ErrCodeExpired
	case code.IsExhausted():
		return nil, apperr.ErrCodeUsesExhausted
	}

	return code, nil
}

// markExpired сохраняет статус expired вне текущей транзакции,
// чтобы он пережил откат из-за ErrCodeExpired
func (s *Service) markExpired(ctx context.Context, code *models.ReferralCode) {
	if code.Status != models.CodeStatusActive {
		return
	}

	changed, err := s.store.Code().UpdateStatus(ctx, code.ID, models.CodeStatusActive, models.CodeStatusExpired)
	if err != nil {
		s.logger.Error("ошибка сохранения статуса expired",
			zap.Int64("code_id", code.ID),
			zap.Error(err))
		return
	}
	if changed {
		s.logger.Info("реферальный код истек", zap.String("code", code.Code))
	}
}

func (s *Service) recordValidation(err error) {
	if err == nil {
		s.metrics.RecordValidation("valid")
		return
	}
	s.metrics.RecordValidation(apperr.CodeOf(err))
}

// TrackReferral фиксирует конверсию по коду в одной транзакции
func (s *Service) TrackReferral(ctx context.Context, req models.TrackRequest) (*models.TrackingResult, error) {
	if strings.TrimSpace(req.ReferredUserID) == "" {
		return nil, apperr.NewValidationError("referred_user_id", "required")
	}
	if req.TransactionAmount.IsNegative() {
		return nil, apperr.NewValidationError("transaction_amount", "must not be negative")
	}

	var (
		tracking *models.ReferralTracking
		program  *models.ReferralProgram
	)
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		code, err := s.validate(ctx, tx, req.Code)
		if err != nil {
			return err
		}

		if code.UserID == req.ReferredUserID {
			return apperr.ErrSelfReferral
		}

		if req.TransactionID != "" {
			_, err := tx.Tracking().GetByCodeAndTransaction(ctx, code.ID, req.TransactionID)
			switch {
			case err == nil:
				return apperr.ErrDuplicateConversion
			case !errors.Is(err, apperr.ErrTrackingNotFound):
				return err
			}
		}

		program, err = tx.Program().GetByID(ctx, code.ProgramID)
		if err != nil {
			return err
		}

		reward, err := program.ComputeReward(req.TransactionAmount)
		if err != nil {
			return err
		}

		ok, err := tx.Code().IncrementUses(ctx, code.ID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrCodeUsesExhausted
		}

		tracking = &models.ReferralTracking{
			ReferrerUserID: code.UserID,
			ReferredUserID: req.ReferredUserID,
			CodeID:         code.ID,
			ProgramID:      program.ID,
			AmountEarned:   reward,
			Currency:       program.RewardCurrency,
			ConvertedAt:    s.now(),
			PayoutStatus:   models.PayoutStatusPending,
		}
		if req.TransactionID != "" {
			txID := req.TransactionID
			tracking.TransactionID = &txID
		}
		if !req.TransactionAmount.IsZero() {
			amount := req.TransactionAmount
			tracking.TransactionAmount = &amount
		}

		return tx.Tracking().Create(ctx, tracking)
	})
	if err != nil {
		s.logger.Warn("конверсия не зафиксирована",
			zap.String("code", req.Code),
			zap.String("referred_user_id", req.ReferredUserID),
			zap.String("reason", apperr.CodeOf(err)))
		return nil, err
	}

	s.metrics.RecordReferral(program.ProgramKey, tracking.Currency, tracking.AmountEarned.InexactFloat64())
	s.logger.Info("конверсия зафиксирована",
		zap.Int64("tracking_id", tracking.ID),
		zap.String("referrer_user_id", tracking.ReferrerUserID),
		zap.String("referred_user_id", tracking.ReferredUserID),
		zap.String("amount_earned", tracking.AmountEarned.StringFixed(2)))

	return &models.TrackingResult{
		TrackingID:     tracking.ID,
		ReferrerUserID: tracking.ReferrerUserID,
		ReferredUserID: tracking.ReferredUserID,
		AmountEarned:   tracking.AmountEarned,
		Currency:       tracking.Currency,
		PayoutStatus:   tracking.PayoutStatus,
	}, nil
}

// GetUserEarnings возвращает заработок реферера
func (s *Service) GetUserEarnings(ctx context.Context, userID string) (*models.UserEarnings, error) {
	var earnings *models.UserEarnings
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		earnings, err = tx.Tracking().GetUserEarnings(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return earnings, nil
}

// GetReferralHistory возвращает историю конверсий реферера, новые первыми
func (s *Service) GetReferralHistory(ctx context.Context, userID string) ([]models.ReferralHistoryItem, error) {
	var trackings []*models.ReferralTracking
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		trackings, err = tx.Tracking().GetByReferrer(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	history := make([]models.ReferralHistoryItem, 0, len(trackings))
	for _, t := range trackings {
		history = append(history, models.ReferralHistoryItem{
			ReferredUserID: t.ReferredUserID,
			AmountEarned:   t.AmountEarned,
			ConvertedAt:    t.ConvertedAt,
			PayoutStatus:   t.PayoutStatus,
		})
	}
	return history, nil
}

package payout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"referral-service/internal/disbursement"
	"referral-service/internal/store"
	"referral-service/pkg/models"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	defaultWorkers   = 4
	defaultBatchSize = 50
)

// Recorder принимает метрики выплат
type Recorder interface {
	RecordPayout(adapter, status string)
	ObservePayoutSubmit(adapter string, seconds float64)
	SetPendingPayouts(count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordPayout(string, string)          {}
func (nopRecorder) ObservePayoutSubmit(string, float64) {}
func (nopRecorder) SetPendingPayouts(int)               {}

// Service управляет жизненным циклом выплат
type Service struct {
	store     store.Store
	adapters  *disbursement.Registry
	logger    *zap.Logger
	metrics   Recorder
	workers   int
	batchSize int
}

// Option настраивает Service
type Option func(*Service)

// WithMetrics подключает метрики
func WithMetrics(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithWorkers задает размер пула отправки выплат
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBatchSize задает число выплат, отправляемых за один проход диспетчера
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService создает сервис выплат
func NewService(st store.Store, adapters *disbursement.Registry, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:     st,
		adapters:  adapters,
		logger:    logger,
		metrics:   nopRecorder{},
		workers:   defaultWorkers,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayout создает выплату по конверсии. Адаптер берется из программы конверсии.
func (s *Service) CreatePayout(ctx context.Context, trackingID int64, recipient models.RecipientData) (*models.Payout, error) {
	var payout *models.Payout
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		tracking, err := tx.Tracking().GetByID(ctx, trackingID)
		if err != nil {
			return err
		}

		program, err := tx.Program().GetByID(ctx, tracking.ProgramID)
		if err != nil {
			return err
		}

		adapter, err := s.adapters.Get(program.AdapterType)
		if err != nil {
			return err
		}
		if err := adapter.ValidateRecipient(recipient); err != nil {
			return err
		}

		payout = &models.Payout{
			UserID:        tracking.ReferrerUserID,
			TrackingID:    tracking.ID,
			Amount:        tracking.AmountEarned,
			Currency:      tracking.Currency,
			Status:        models.PayoutStatusPending,
			AdapterType:   adapter.Type(),
			RecipientData: recipient,
		}
		return tx.Payout().Create(ctx, payout)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPayout(payout.AdapterType, string(payout.Status))
	return payout, nil
}

// Submit переводит выплату в обработку и отправляет ее в адаптер.
// Выплату в processing можно отправить повторно, ключ идемпотентности не меняется.
func (s *Service) Submit(ctx context.Context, payoutID int64) (*models.Payout, error) {
	var (
		payout *models.Payout
		config models.AdapterConfig
	)
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		payout, err = tx.Payout().MarkAsProcessing(ctx, payoutID)
		if err != nil {
			return err
		}

		if err := tx.Tracking().UpdatePayoutStatus(ctx, payout.TrackingID, models.PayoutStatusProcessing); err != nil {
			return err
		}

		tracking, err := tx.Tracking().GetByID(ctx, payout.TrackingID)
		if err != nil {
			return err
		}
		program, err := tx.Program().GetByID(ctx, tracking.ProgramID)
		if err != nil {
			return err
		}
		config = program.AdapterConfig
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPayout(payout.AdapterType, string(models.PayoutStatusProcessing))

	adapter, err := s.adapters.Get(payout.AdapterType)
	if err != nil {
		return s.handleSubmitError(ctx, payout, err)
	}

	start := time.Now()
	result, err := adapter.Submit(ctx, &disbursement.Request{
		PayoutID:       payout.ID,
		IdempotenceKey: disbursement.IdempotenceKey(payout.ID),
		UserID:         payout.UserID,
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		Recipient:      payout.RecipientData,
		Config:         config,
	})
	s.metrics.ObservePayoutSubmit(payout.AdapterType, time.Since(start).Seconds())
	if err != nil {
		return s.handleSubmitError(ctx, payout, err)
	}

	switch result.Status {
	case models.PayoutStatusPaid:
		return s.MarkAsPaid(ctx, payout.ID, result.ExternalTransactionID)
	case models.PayoutStatusFailed:
		return s.MarkAsFailed(ctx, payout.ID, result.FailureReason)
	default:
		s.logger.Info("выплата ожидает подтверждения",
			zap.Int64("payout_id", payout.ID),
			zap.String("adapter", payout.AdapterType))
		return payout, nil
	}
}

// handleSubmitError обрабатывает ошибку адаптера. Выплата отмечается неудачной только при
// окончательном отказе; иначе она остается в processing до webhook'а или
// повторной отправки с тем же ключом идемпотентности.
func (s *Service) handleSubmitError(ctx context.Context, payout *models.Payout, cause error) (*models.Payout, error) {
	if !disbursement.IsRejected(cause) {
		s.logger.Warn("результат отправки выплаты неизвестен, выплата остается в обработке",
			zap.Int64("payout_id", payout.ID),
			zap.String("adapter", payout.AdapterType),
			zap.Error(cause))
		return payout, fmt.Errorf("ошибка адаптера %s: %w", payout.AdapterType, cause)
	}

	s.logger.Error("выплата отклонена адаптером",
		zap.Int64("payout_id", payout.ID),
		zap.String("adapter", payout.AdapterType),
		zap.Error(cause))

	failed, err := s.MarkAsFailed(ctx, payout.ID, cause.Error())
	if err != nil {
		return nil, fmt.Errorf("ошибка отметки выплаты неудачной: %w (исходная ошибка: %v)", err, cause)
	}
	return failed, fmt.Errorf("ошибка адаптера %s: %w", payout.AdapterType, cause)
}

// MarkAsPaid отмечает выплату проведенной вместе с конверсией
func (s *Service) MarkAsPaid(ctx context.Context, payoutID int64, externalTransactionID string) (*models.Payout, error) {
	return s.finish(ctx, payoutID, models.PayoutStatusPaid, func(tx store.Store) (*models.Payout, error) {
		return tx.Payout().MarkAsPaid(ctx, payoutID, externalTransactionID)
	})
}

// MarkAsFailed отмечает выплату неудачной вместе с конверсией
func (s *Service) MarkAsFailed(ctx context.Context, payoutID int64, reason string) (*models.Payout, error) {
	return s.finish(ctx, payoutID, models.PayoutStatusFailed, func(tx store.Store) (*models.Payout, error) {
		return tx.Payout().MarkAsFailed(ctx, payoutID, reason)
	})
}

func (s *Service) finish(ctx context.Context, payoutID int64, status models.PayoutStatus, transition func(tx store.Store) (*models.Payout, error)) (*models.Payout, error) {
	var payout *models.Payout
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		payout, err = transition(tx)
		if err != nil {
			return err
		}
		return tx.Tracking().UpdatePayoutStatus(ctx, payout.TrackingID, status)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPayout(payout.AdapterType, string(status))
	s.logger.Info("выплата завершена",
		zap.Int64("payout_id", payoutID),
		zap.String("status", string(status)))

	return payout, nil
}

// GetPayout возвращает выплату по ID
func (s *Service) GetPayout(ctx context.Context, payoutID int64) (*models.Payout, error) {
	var payout *models.Payout
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		payout, err = tx.Payout().GetByID(ctx, payoutID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// ListPayouts возвращает выплаты в указанном статусе
func (s *Service) ListPayouts(ctx context.Context, status models.PayoutStatus, limit int) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		payouts, err = tx.Payout().ListByStatus(ctx, status, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

// DispatchPending отправляет пачку ожидающих выплат через пул воркеров.
// Возвращает число выплат, отправленных без ошибок.
func (s *Service) DispatchPending(ctx context.Context) (int, error) {
	pending, err := s.ListPayouts(ctx, models.PayoutStatusPending, s.batchSize)
	if err != nil {
		return 0, err
	}
	s.metrics.SetPendingPayouts(len(pending))

	if len(pending) == 0 {
		return 0, nil
	}

	size := s.workers
	if len(pending) < size {
		size = len(pending)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания пула воркеров: %w", err)
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for _, p := range pending {
		id := p.ID
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if _, err := s.Submit(ctx, id); err != nil {
				s.logger.Warn("выплата не отправлена", zap.Int64("payout_id", id), zap.Error(err))
				return
			}
			succeeded.Add(1)
		})
		if err != nil {
			wg.Done()
			s.logger.Error("ошибка постановки выплаты в пул", zap.Int64("payout_id", id), zap.Error(err))
		}
	}
	wg.Wait()

	s.logger.Info("проход диспетчера выплат завершен",
		zap.Int("pending", len(pending)),
		zap.Int64("submitted", succeeded.Load()))

	return int(succeeded.Load()), nil
}

package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// PayoutDispatcher отправляет ожидающие выплаты. Реализуется *payout.Service.
type PayoutDispatcher interface {
	DispatchPending(ctx context.Context) (int, error)
}

// PayoutDispatchJob периодически отправляет ожидающие выплаты в адаптеры
type PayoutDispatchJob struct {
	dispatcher PayoutDispatcher
	logger     *zap.Logger
}

// NewPayoutDispatchJob создает джобу отправки выплат
func NewPayoutDispatchJob(dispatcher PayoutDispatcher, logger *zap.Logger) *PayoutDispatchJob {
	return &PayoutDispatchJob{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Name возвращает имя джобы для логов
func (j *PayoutDispatchJob) Name() string {
	return "payout_dispatch"
}

// Run отправляет очередную пачку выплат
func (j *PayoutDispatchJob) Run(ctx context.Context) error {
	submitted, err := j.dispatcher.DispatchPending(ctx)
	if err != nil {
		return fmt.Errorf("ошибка отправки выплат: %w", err)
	}

	if submitted > 0 {
		j.logger.Info("выплаты отправлены", zap.Int("count", submitted))
	}
	return nil
}

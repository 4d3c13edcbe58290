package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Job периодическая задача сервиса выплат
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler по таймеру запускает задачи выплат по очереди
type Scheduler struct {
	logger     *zap.Logger
	jobs       []Job
	jobTimeout time.Duration
}

// Option настраивает Scheduler
type Option func(*Scheduler)

// WithJobTimeout ограничивает время одного запуска задачи. Ноль отключает ограничение.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// NewScheduler создает планировщик
func NewScheduler(logger *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob регистрирует задачу
func (s *Scheduler) AddJob(job Job) {
	s.jobs = append(s.jobs, job)
}

// JobNames возвращает имена зарегистрированных задач в порядке запуска
func (s *Scheduler) JobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		names = append(names, job.Name())
	}
	return names
}

// Start выполняет задачи сразу и далее с интервалом interval, пока ctx не отменен
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("запуск планировщика выплат",
		zap.Duration("interval", interval),
		zap.Duration("job_timeout", s.jobTimeout),
		zap.Strings("jobs", s.JobNames()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("остановка планировщика выплат")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет все задачи один раз и возвращает число завершившихся с ошибкой
func (s *Scheduler) RunOnce(ctx context.Context) int {
	failed := 0
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return failed
		}
		if err := s.run(ctx, job); err != nil {
			failed++
		}
	}
	return failed
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Error("ошибка выполнения задачи",
			zap.String("job", job.Name()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return err
	}

	s.logger.Debug("задача выполнена",
		zap.String("job", job.Name()),
		zap.Duration("elapsed", elapsed))
	return nil
}

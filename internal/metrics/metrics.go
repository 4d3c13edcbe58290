package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения
type Metrics struct {
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	// Счетчики
	codesIssued      *prometheus.CounterVec
	codeValidations  *prometheus.CounterVec
	referralsTracked *prometheus.CounterVec
	rewardsEarned    *prometheus.CounterVec
	payouts          *prometheus.CounterVec

	// Гистограммы
	rewardPerReferral *prometheus.HistogramVec
	payoutSubmitTime  *prometheus.HistogramVec

	// Gauge метрики
	pendingPayouts prometheus.Gauge

	// Мьютекс для thread-safety
	mu sync.RWMutex
}

// New создает новый экземпляр метрик и регистрирует их в reg.
// При reg == nil используется глобальный реестр Prometheus.
func New(logger *zap.Logger, reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer = reg
		gatherer = reg
	}

	m := &Metrics{
		logger:   logger,
		gatherer: gatherer,

		codesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_codes_issued_total",
				Help: "Количество выпущенных реферальных кодов",
			},
			[]string{"program"},
		),

		codeValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_code_validations_total",
				Help: "Количество проверок реферальных кодов",
			},
			[]string{"result"}, // valid, code_not_found, code_inactive, code_expired, code_uses_exhausted
		),

		referralsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referrals_tracked_total",
				Help: "Количество зафиксированных конверсий",
			},
			[]string{"program"},
		),

		rewardsEarned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_rewards_earned_total",
				Help: "Сумма начисленных вознаграждений",
			},
			[]string{"currency"},
		),

		payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_payouts_total",
				Help: "Количество переходов выплат по статусам",
			},
			[]string{"adapter", "status"}, // status: processing, paid, failed
		),

		rewardPerReferral: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "referral_reward_amount",
				Help:    "Размер вознаграждения за одну конверсию",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"currency"},
		),

		payoutSubmitTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "referral_payout_submit_seconds",
				Help:    "Время отправки выплаты в адаптер в секундах",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"adapter"},
		),

		pendingPayouts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "referral_payouts_pending",
				Help: "Количество выплат, найденных диспетчером в статусе pending",
			},
		),
	}

	// Регистрируем все метрики
	registerer.MustRegister(
		m.codesIssued,
		m.codeValidations,
		m.referralsTracked,
		m.rewardsEarned,
		m.payouts,
		m.rewardPerReferral,
		m.payoutSubmitTime,
		m.pendingPayouts,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "referral_codes_issued_total":
		counter = m.codesIssued
	case "referral_code_validations_total":
		counter = m.codeValidations
	case "referrals_tracked_total":
		counter = m.referralsTracked
	case "referral_payouts_total":
		counter = m.payouts
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
	m.logger.Debug("метрика увеличена", zap.String("metric", name), zap.Strings("labels", labels))
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "referral_payouts_pending":
		m.pendingPayouts.Set(value)
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
		return
	}

	m.logger.Debug("метрика установлена", zap.String("metric", name), zap.Float64("value", value))
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "referral_reward_amount":
		m.rewardPerReferral.WithLabelValues(labels...).Observe(value)
	case "referral_payout_submit_seconds":
		m.payoutSubmitTime.WithLabelValues(labels...).Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
		return
	}

	m.logger.Debug("гистограмма обновлена", zap.String("metric", name), zap.Float64("value", value))
}

// RecordCodeIssued записывает выпуск кода
func (m *Metrics) RecordCodeIssued(programKey string) {
	m.IncrementCounter("referral_codes_issued_total", programKey)
}

// RecordValidation записывает результат проверки кода
func (m *Metrics) RecordValidation(result string) {
	m.IncrementCounter("referral_code_validations_total", result)
}

// RecordReferral записывает конверсию и начисленное вознаграждение
func (m *Metrics) RecordReferral(programKey, currency string, amount float64) {
	m.IncrementCounter("referrals_tracked_total", programKey)
	m.ObserveHistogram("referral_reward_amount", amount, currency)

	m.mu.Lock()
	m.rewardsEarned.WithLabelValues(currency).Add(amount)
	m.mu.Unlock()
}

// RecordPayout записывает переход выплаты в статус
func (m *Metrics) RecordPayout(adapter, status string) {
	m.IncrementCounter("referral_payouts_total", adapter, status)
}

// ObservePayoutSubmit записывает время обращения к адаптеру
func (m *Metrics) ObservePayoutSubmit(adapter string, seconds float64) {
	m.ObserveHistogram("referral_payout_submit_seconds", seconds, adapter)
}

// SetPendingPayouts обновляет число ожидающих выплат
func (m *Metrics) SetPendingPayouts(count int) {
	m.SetGauge("referral_payouts_pending", float64(count))
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

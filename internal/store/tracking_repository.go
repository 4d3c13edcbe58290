package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-service/internal/apperr"
	"referral-service/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const trackingColumns = `id, referrer_user_id, referred_user_id, code_id, program_id, transaction_id,
		       transaction_amount, amount_earned, currency, converted_at, payout_status, created_at`

// PostgresTrackingRepository реализует TrackingRepository для PostgreSQL
type PostgresTrackingRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewTrackingRepository создает новый репозиторий конверсий
func NewTrackingRepository(db DBTX, logger *zap.Logger) TrackingRepository {
	return &PostgresTrackingRepository{
		db:     db,
		logger: logger,
	}
}

// Create сохраняет конверсию
func (r *PostgresTrackingRepository) Create(ctx context.Context, tracking *models.ReferralTracking) error {
	if tracking.PayoutStatus == "" {
		tracking.PayoutStatus = models.PayoutStatusPending
	}

	query := `
		INSERT INTO referral_trackings (
			referrer_user_id, referred_user_id, code_id, program_id, transaction_id,
			transaction_amount, amount_earned, currency, converted_at, payout_status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	now := time.Now().UTC()
	if tracking.ConvertedAt.IsZero() {
		tracking.ConvertedAt = now
	}
	tracking.CreatedAt = now

	err := r.db.QueryRow(ctx, query,
		tracking.ReferrerUserID,
		tracking.ReferredUserID,
		tracking.CodeID,
		tracking.ProgramID,
		tracking.TransactionID,
		tracking.TransactionAmount,
		tracking.AmountEarned,
		tracking.Currency,
		tracking.ConvertedAt,
		tracking.PayoutStatus,
		tracking.CreatedAt,
	).Scan(&tracking.ID)

	if err != nil {
		// единственный уникальный индекс таблицы: (code_id, transaction_id)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: code_id=%d", apperr.ErrDuplicateConversion, tracking.CodeID)
		}
		return fmt.Errorf("ошибка создания конверсии: %w", err)
	}

	r.logger.Info("конверсия сохранена в БД",
		zap.Int64("tracking_id", tracking.ID),
		zap.String("referrer_user_id", tracking.ReferrerUserID),
		zap.String("referred_user_id", tracking.ReferredUserID),
		zap.String("amount_earned", tracking.AmountEarned.StringFixed(2)))

	return nil
}

// GetByID получает конверсию по ID
func (r *PostgresTrackingRepository) GetByID(ctx context.Context, id int64) (*models.ReferralTracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM referral_trackings WHERE id = $1`

	tracking, err := scanTracking(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrTrackingNotFound
		}
		return nil, fmt.Errorf("ошибка получения конверсии: %w", err)
	}

	return tracking, nil
}

// GetByReferrer получает конверсии реферера, новые первыми
func (r *PostgresTrackingRepository) GetByReferrer(ctx context.Context, userID string) ([]*models.ReferralTracking, error) {
	query := `
		SELECT ` + trackingColumns + `
		FROM referral_trackings
		WHERE referrer_user_id = $1
		ORDER BY converted_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения конверсий реферера: %w", err)
	}
	defer rows.Close()

	var trackings []*models.ReferralTracking
	for rows.Next() {
		tracking, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования конверсии: %w", err)
		}
		trackings = append(trackings, tracking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения конверсий: %w", err)
	}

	return trackings, nil
}

// GetByCodeAndTransaction ищет конверсию по коду и ID транзакции
func (r *PostgresTrackingRepository) GetByCodeAndTransaction(ctx context.Context, codeID int64, transactionID string) (*models.ReferralTracking, error) {
	query := `SELECT ` + trackingColumns + ` FROM referral_trackings WHERE code_id = $1 AND transaction_id = $2`

	tracking, err := scanTracking(r.db.QueryRow(ctx, query, codeID, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrTrackingNotFound
		}
		return nil, fmt.Errorf("ошибка поиска конверсии по транзакции: %w", err)
	}

	return tracking, nil
}

// GetUserEarnings считает заработок реферера. Неудачные выплаты не учитываются.
func (r *PostgresTrackingRepository) GetUserEarnings(ctx context.Context, userID string) (*models.UserEarnings, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN payout_status IN ('pending', 'processing') THEN amount_earned END), 0) AS pending,
			COALESCE(SUM(CASE WHEN payout_status = 'paid' THEN amount_earned END), 0) AS paid
		FROM referral_trackings
		WHERE referrer_user_id = $1`

	var pending, paid decimal.Decimal
	if err := r.db.QueryRow(ctx, query, userID).Scan(&pending, &paid); err != nil {
		return nil, fmt.Errorf("ошибка получения заработка пользователя: %w", err)
	}

	return &models.UserEarnings{
		Total:   pending.Add(paid),
		Pending: pending,
		Paid:    paid,
	}, nil
}

// UpdatePayoutStatus обновляет статус выплаты конверсии
func (r *PostgresTrackingRepository) UpdatePayoutStatus(ctx context.Context, id int64, status models.PayoutStatus) error {
	if !status.IsValid() {
		return apperr.NewValidationError("payout_status", "unsupported payout status")
	}

	query := `UPDATE referral_trackings SET payout_status = $2 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса выплаты конверсии: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperr.ErrTrackingNotFound
	}

	return nil
}

func scanTracking(row scanner) (*models.ReferralTracking, error) {
	tracking := &models.ReferralTracking{}
	err := row.Scan(
		&tracking.ID,
		&tracking.ReferrerUserID,
		&tracking.ReferredUserID,
		&tracking.CodeID,
		&tracking.ProgramID,
		&tracking.TransactionID,
		&tracking.TransactionAmount,
		&tracking.AmountEarned,
		&tracking.Currency,
		&tracking.ConvertedAt,
		&tracking.PayoutStatus,
		&tracking.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return tracking, nil
}

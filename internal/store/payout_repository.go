package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"referral-service/internal/apperr"
	"referral-service/pkg/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const payoutColumns = `id, user_id, tracking_id, amount, currency, status, adapter_type, recipient_data,
		       external_transaction_id, failure_reason, processed_at, created_at, updated_at`

// PostgresPayoutRepository реализует PayoutRepository для PostgreSQL
type PostgresPayoutRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPayoutRepository создает новый репозиторий выплат
func NewPayoutRepository(db DBTX, logger *zap.Logger) PayoutRepository {
	return &PostgresPayoutRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает выплату. На одну конверсию допускается одна выплата.
func (r *PostgresPayoutRepository) Create(ctx context.Context, payout *models.Payout) error {
	if payout.Status == "" {
		payout.Status = models.PayoutStatusPending
	}
	if !payout.Amount.IsPositive() {
		return apperr.NewValidationError("amount", "must be positive")
	}
	if payout.RecipientData == nil {
		payout.RecipientData = models.RecipientData{}
	}

	query := `
		INSERT INTO payouts (
			user_id, tracking_id, amount, currency, status, adapter_type,
			recipient_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	now := time.Now().UTC()
	payout.CreatedAt = now
	payout.UpdatedAt = now

	err := r.db.QueryRow(ctx, query,
		payout.UserID,
		payout.TrackingID,
		payout.Amount,
		payout.Currency,
		payout.Status,
		payout.AdapterType,
		payout.RecipientData,
		payout.CreatedAt,
		payout.UpdatedAt,
	).Scan(&payout.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return apperr.NewValidationError("tracking_id", "payout already exists for this tracking")
		}
		return fmt.Errorf("ошибка создания выплаты: %w", err)
	}

	r.logger.Info("выплата создана в БД",
		zap.Int64("payout_id", payout.ID),
		zap.Int64("tracking_id", payout.TrackingID),
		zap.String("user_id", payout.UserID),
		zap.String("adapter_type", payout.AdapterType))

	return nil
}

// GetByID получает выплату по ID
func (r *PostgresPayoutRepository) GetByID(ctx context.Context, id int64) (*models.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`

	payout, err := scanPayout(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("ошибка получения выплаты: %w", err)
	}

	return payout, nil
}

// GetByTrackingID получает выплату по конверсии
func (r *PostgresPayoutRepository) GetByTrackingID(ctx context.Context, trackingID int64) (*models.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE tracking_id = $1`

	payout, err := scanPayout(r.db.QueryRow(ctx, query, trackingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrPayoutNotFound
		}
		return nil, fmt.Errorf("ошибка получения выплаты по конверсии: %w", err)
	}

	return payout, nil
}

// ListByStatus возвращает выплаты в статусе status, старые первыми
func (r *PostgresPayoutRepository) ListByStatus(ctx context.Context, status models.PayoutStatus, limit int) ([]*models.Payout, error) {
	query := `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка выплат: %w", err)
	}
	defer rows.Close()

	var payouts []*models.Payout
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования выплаты: %w", err)
		}
		payouts = append(payouts, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения выплат: %w", err)
	}

	return payouts, nil
}

// MarkAsProcessing переводит выплату из pending в processing.
// Повторный вызов для processing возвращает выплату без изменений.
func (r *PostgresPayoutRepository) MarkAsProcessing(ctx context.Context, id int64) (*models.Payout, error) {
	query := `
		UPDATE payouts
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + payoutColumns

	payout, err := scanPayout(r.db.QueryRow(ctx, query, id, time.Now().UTC()))
	if err == nil {
		return payout, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка перевода выплаты в обработку: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.PayoutStatusProcessing {
		return current, nil
	}
	return nil, apperr.ErrPayoutAlreadyProcessed
}

// MarkAsPaid отмечает выплату проведенной. Повторный вызов с тем же
// externalTransactionID возвращает выплату без изменений.
func (r *PostgresPayoutRepository) MarkAsPaid(ctx context.Context, id int64, externalTransactionID string) (*models.Payout, error) {
	if externalTransactionID == "" {
		return nil, apperr.NewValidationError("external_transaction_id", "required")
	}

	query := `
		UPDATE payouts
		SET status = 'paid', external_transaction_id = $2, processed_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + payoutColumns

	payout, err := scanPayout(r.db.QueryRow(ctx, query, id, externalTransactionID, time.Now().UTC()))
	if err == nil {
		r.logger.Info("выплата проведена",
			zap.Int64("payout_id", id),
			zap.String("external_transaction_id", externalTransactionID))
		return payout, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка отметки выплаты проведенной: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsPaidWith(externalTransactionID) {
		return current, nil
	}

	r.logger.Warn("выплата уже обработана",
		zap.Int64("payout_id", id),
		zap.String("status", string(current.Status)))
	return nil, apperr.ErrPayoutAlreadyProcessed
}

// MarkAsFailed отмечает выплату неудачной. Для уже неудачной выплаты
// возвращает ее без изменений, для проведенной возвращает ошибку.
func (r *PostgresPayoutRepository) MarkAsFailed(ctx context.Context, id int64, reason string) (*models.Payout, error) {
	query := `
		UPDATE payouts
		SET status = 'failed', failure_reason = $2, processed_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + payoutColumns

	payout, err := scanPayout(r.db.QueryRow(ctx, query, id, reason, time.Now().UTC()))
	if err == nil {
		r.logger.Warn("выплата отмечена неудачной",
			zap.Int64("payout_id", id),
			zap.String("reason", reason))
		return payout, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ошибка отметки выплаты неудачной: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.PayoutStatusFailed {
		return current, nil
	}
	return nil, apperr.ErrPayoutAlreadyProcessed
}

func scanPayout(row scanner) (*models.Payout, error) {
	payout := &models.Payout{}
	err := row.Scan(
		&payout.ID,
		&payout.UserID,
		&payout.TrackingID,
		&payout.Amount,
		&payout.Currency,
		&payout.Status,
		&payout.AdapterType,
		&payout.RecipientData,
		&payout.ExternalTransactionID,
		&payout.FailureReason,
		&payout.ProcessedAt,
		&payout.CreatedAt,
		&payout.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return payout, nil
}
